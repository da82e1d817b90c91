package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/santiagomed/forge/config"
	"github.com/santiagomed/forge/core"
	"github.com/santiagomed/forge/deploy"
	"github.com/santiagomed/forge/fs"
	"github.com/santiagomed/forge/logger"
	"github.com/santiagomed/forge/server"
	"github.com/spf13/cobra"
)

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFBA08"))

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Forge turns a description into a working app, document or study deck",
	Long: `Forge plans, generates, visually reviews and tests content with large language models.
It runs interactively in the terminal or as an HTTP service.`,
	SilenceUsage: true,
}

var genCmd = &cobra.Command{
	Use:   "gen [prompt]",
	Short: "Generate interactively, or in one shot with --yes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := parseGenFlags(cmd)
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		if yes {
			if len(args) == 0 {
				return fmt.Errorf("--yes needs a prompt")
			}
			app, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer app.Close()
			return runOnce(cmd.Context(), app, flags, args[0])
		}

		app, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer app.Close()

		model, err := newGenerateModel(app, flags)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			model.textInput.SetValue(args[0])
		}
		p := tea.NewProgram(model)
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running program: %w", err)
		}
		model.Shutdown()
		return nil
	},
}

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List the generation modes",
	Run: func(cmd *cobra.Command, args []string) {
		reg := core.DefaultRegistry()
		for _, m := range reg.Modes() {
			st, err := reg.Get(m)
			if err != nil {
				continue
			}
			fmt.Printf("%-20s %-16s %s\n", accent.Render(string(m)), m.Label(), faint.Render(st.Shape().String()))
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd, true)
		if err != nil {
			return err
		}
		defer app.Close()

		srv, err := server.New(server.Options{
			Config:    app.Config,
			Invoker:   app.Adapter,
			Registry:  app.Registry,
			Pipeline:  app.Pipeline,
			Deployers: app.Deployers,
			Tokens:    app.Credentials.DeployToken,
			Metrics:   app.Metrics,
			Logger:    app.Logger,
		})
		if err != nil {
			return err
		}
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = app.Config.Server.Addr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx, addr)
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <dir>",
	Short: "Deploy a saved artifact directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		dest, _ := cmd.Flags().GetString("dest")
		token, _ := cmd.Flags().GetString("token")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger.InitConsoleLogger(cfg.LogLevel)
		l := logger.GetLogger()

		files, err := fs.NewOsFileSystem(args[0]).ReadArtifact()
		if err != nil {
			return err
		}
		if token == "" {
			token = config.NewCredentials().DeployToken(target)
		}
		deployers := newDeployers(cfg, nil, l)
		url, err := deployers.Deploy(cmd.Context(), target, deploy.Target{
			Files:       files,
			Destination: dest,
			Token:       token,
			Message:     "Deploy " + filepath.Base(args[0]),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Deployed to %s\n", checkStyle.Render("✓"), accent.Render(url))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Download the artifact of a session from a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := parseGetFlags(cmd)
		if err != nil {
			return err
		}
		id := args[0]
		resp, err := downloadFile(strings.TrimRight(flags.server, "/") + "/sessions/" + id + "/export")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		file, err := os.CreateTemp("", "forge-*.zip")
		if err != nil {
			return fmt.Errorf("could not create file: %w", err)
		}
		defer os.Remove(file.Name())
		defer file.Close() // nolint:errcheck

		name := flags.out
		if name == "" {
			name = "forge-" + id[:min(8, len(id))]
		}

		var p *tea.Program
		pw := &progressWriter{
			total:  int(resp.ContentLength),
			file:   file,
			reader: resp.Body,
			onProgress: func(ratio float64) {
				p.Send(progressMsg(ratio))
			},
		}
		p = tea.NewProgram(newGetCmdModel(pw, file.Name(), name))
		go pw.Start(p)

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running program: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a configuration file (default forge.yaml or ~/.forge/forge.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level, overrides the configuration")

	rootCmd.AddCommand(genCmd, modesCmd, serveCmd, deployCmd, getCmd)

	genCmd.Flags().StringP("mode", "m", "", "Generation mode, see 'forge modes'")
	genCmd.Flags().StringP("backend", "b", "", "Backend used for every stage")
	genCmd.Flags().String("vision-backend", "", "Backend used for the visual review")
	genCmd.Flags().StringP("agent", "a", "", "Agent persona")
	genCmd.Flags().StringP("out", "o", "", "Directory the artifact is saved to")
	genCmd.Flags().BoolP("yes", "y", false, "Accept the plan and save the result without prompting")

	serveCmd.Flags().String("addr", "", "Listen address (default from configuration)")

	deployCmd.Flags().StringP("target", "t", "", "Deploy target: github, vercel or s3")
	deployCmd.Flags().StringP("dest", "d", "", "Destination: owner/repo[@branch], project name or bucket[/prefix]")
	deployCmd.Flags().String("token", "", "Token for the target (default from environment or keyring)")
	_ = deployCmd.MarkFlagRequired("target")
	_ = deployCmd.MarkFlagRequired("dest")

	getCmd.Flags().String("server", "http://localhost:8080", "Forge server URL")
	getCmd.Flags().StringP("out", "o", "", "Directory to save into")
}

func parseGenFlags(cmd *cobra.Command) (genFlags, error) {
	var f genFlags
	for name, dst := range map[string]*string{
		"mode":           &f.mode,
		"backend":        &f.backend,
		"vision-backend": &f.visionBackend,
		"agent":          &f.agent,
		"out":            &f.out,
	} {
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return genFlags{}, err
		}
		*dst = v
	}
	return f, nil
}

func parseGetFlags(cmd *cobra.Command) (getFlags, error) {
	server, err := cmd.Flags().GetString("server")
	if err != nil {
		return getFlags{}, err
	}
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return getFlags{}, err
	}
	return getFlags{server: server, out: out}, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// setup loads the configuration and builds the App. The terminal interface logs to
// ~/.forge/forge.log; console commands log to stderr.
func setup(cmd *cobra.Command, console bool) (*App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if console {
		logger.InitConsoleLogger(cfg.LogLevel)
	} else {
		logger.InitLogger(cfg.LogLevel)
	}
	l := logger.GetLogger()
	l.Debug("Initializing Forge CLI")
	return NewApp(cmd.Context(), cfg, l)
}

// runOnce runs the whole pipeline without prompting and saves the result.
func runOnce(ctx context.Context, app *App, f genFlags, prompt string) error {
	session, err := app.NewSession(f.mode, f.backend, f.visionBackend, f.agent, nil)
	if err != nil {
		return err
	}
	if err := app.Pipeline.Execute(ctx, session, prompt, nil); err != nil {
		return fmt.Errorf("%s", core.UserMessage(session.Mode(), err))
	}

	m := generateCmdModel{app: app, session: session, flags: f}
	out, err := m.save(f.out)
	if err != nil {
		return err
	}
	fmt.Println(lastMessage(session, core.MessageSummary))
	fmt.Println(out)
	return nil
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
