package sandbox

import (
	"errors"
	"sort"
	"strings"

	"github.com/santiagomed/forge/core"
)

var ErrNothingToRender = errors.New("artifact has no renderable entry point")

// reactHarness mounts the default export of App.js. react-native imports resolve to
// react-native-web.
const reactHarness = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<script src="https://unpkg.com/@babel/standalone@7/babel.min.js"></script>
<script type="importmap">
{"imports": {
  "react": "https://esm.sh/react@18",
  "react/jsx-runtime": "https://esm.sh/react@18/jsx-runtime",
  "react-dom/client": "https://esm.sh/react-dom@18/client",
  "react-native": "https://esm.sh/react-native-web@0.19?deps=react@18,react-dom@18"
}}
</script>
<style>html, body, #root { height: 100%; margin: 0; }</style>
</head>
<body>
<div id="root"></div>
<script type="module">
import React from "react";
import { createRoot } from "react-dom/client";
const src = await (await fetch("./App.js")).text();
const out = Babel.transform(src, { presets: ["react"], filename: "App.js" }).code;
const url = URL.createObjectURL(new Blob([out], { type: "text/javascript" }));
const mod = await import(url);
createRoot(document.getElementById("root")).render(React.createElement(mod.default));
</script>
</body>
</html>
`

const harnessPath = "__forge__/index.html"

// entryPoint picks the page to open. React artifacts get a generated harness page
// added to the returned copy of files.
func entryPoint(files core.ArtifactSet) (string, core.ArtifactSet, error) {
	if _, ok := files["index.html"]; ok {
		return "index.html", files, nil
	}

	var nested []string
	for _, p := range files.Paths() {
		if strings.HasSuffix(p, "/index.html") {
			nested = append(nested, p)
		}
	}
	if len(nested) > 0 {
		sort.SliceStable(nested, func(i, j int) bool {
			return strings.Count(nested[i], "/") < strings.Count(nested[j], "/")
		})
		return nested[0], files, nil
	}

	if _, ok := files["App.js"]; ok {
		out := files.Clone()
		out[harnessPath] = strings.Replace(reactHarness, `"./App.js"`, `"../App.js"`, 1)
		return harnessPath, out, nil
	}
	return "", nil, ErrNothingToRender
}
