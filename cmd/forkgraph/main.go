// cmd/forkgraph/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github-fork-graph/internal/app"
	"github-fork-graph/internal/config"
	custom_errors "github-fork-graph/internal/errors"
	"github-fork-graph/internal/policy"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	c := &cli{
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		loadConfig:  config.LoadConfig,
		openApp:     app.New,
	}
	code := c.execute(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}

// usageError marks bad flags or arguments.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

type cli struct {
	in          io.Reader
	out, errOut io.Writer
	interactive bool

	loadConfig func() (*config.Config, error)
	openApp    func(ctx context.Context, cfg *config.Config, opts app.Options, logger *slog.Logger) (*app.App, error)

	logLevel string
	yes      bool
	asJSON   bool
}

func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(c.errOut, failStyle.Render("Error: "+err.Error()))
	var usage *usageError
	if errors.As(err, &usage) {
		return custom_errors.ExitInvalidInput
	}
	return custom_errors.ExitCode(err)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "forkgraph",
		Short:         "Sync the fork, star and watch graph of GitHub repositories and find unpatched forks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.PersistentFlags().BoolVarP(&c.yes, "yes", "y", false, "answer yes to every confirmation")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		c.syncCmd(),
		c.infoCmd(),
		c.forksCmd(),
		c.topOrgsCmd(),
		c.unpatchedCmd(),
		c.deleteCmd(),
		c.historyCmd(),
	)
	return root
}

func (c *cli) render() renderer {
	return renderer{w: c.out, json: c.asJSON}
}

// open loads the configuration and wires the application.
func (c *cli) open(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	logger, _ := app.NewLogger(c.errOut, false, level)

	if opts.Policy == nil {
		opts.Policy = c.policy(cfg)
	}
	return c.openApp(ctx, cfg, opts, logger)
}

func (c *cli) policy(cfg *config.Config) policy.AutoConfirmPolicy {
	switch {
	case c.yes || cfg.AutoConfirm:
		return policy.Always
	case c.interactive:
		return &promptPolicy{in: c.in, out: c.errOut}
	}
	return policy.Never
}

// confirm asks before destructive operations. Without a terminal only --yes
// proceeds.
func (c *cli) confirm(ctx context.Context, title string) (bool, error) {
	if c.yes {
		return true, nil
	}
	if !c.interactive {
		return false, usagef("refusing without confirmation: pass --yes")
	}
	return (&promptPolicy{in: c.in, out: c.errOut}).ask(ctx, title)
}
