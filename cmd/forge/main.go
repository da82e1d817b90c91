package main

import "github.com/santiagomed/forge/cli"

func main() {
	cli.Execute()
}
