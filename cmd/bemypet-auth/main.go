package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/junghoonshin3/bemypet/config"
	"github.com/junghoonshin3/bemypet/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type runtimeFactory func(ctx context.Context, prometheus bool) (*bootstrap.Runtime, func() error, error)

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
	In     io.Reader

	openRuntime runtimeFactory
}

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	bootstrap.SetLogLevel(cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmdCtx := newCommandContext(ctx, logger, cfg)
	runErr := cmd.run(cmdCtx, os.Args[2:])
	stop()
	if runErr != nil {
		logger.ErrorContext(ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newCommandContext(ctx context.Context, logger *slog.Logger, cfg config.AppConfig) *commandContext {
	cmdCtx := &commandContext{
		Ctx:    ctx,
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
		In:     os.Stdin,
	}
	cmdCtx.openRuntime = func(ctx context.Context, prometheus bool) (*bootstrap.Runtime, func() error, error) {
		rt, err := bootstrap.BuildRuntime(ctx, bootstrap.RuntimeConfig{
			Config:     &cmdCtx.Config,
			Logger:     cmdCtx.Logger,
			Prometheus: prometheus,
		})
		if err != nil {
			return nil, nil, err
		}
		return rt, rt.Close, nil
	}
	return cmdCtx
}

// runtime builds the agent and returns a release func that logs close failures.
func (c *commandContext) runtime(prometheus bool) (*bootstrap.Runtime, func(), error) {
	rt, closeFn, err := c.openRuntime(c.Ctx, prometheus)
	if err != nil {
		return nil, nil, fmt.Errorf("build runtime: %w", err)
	}
	release := func() {
		if closeFn == nil {
			return
		}
		if closeErr := closeFn(); closeErr != nil {
			c.Logger.Warn("runtime close failed", "error", closeErr)
		}
	}
	return rt, release, nil
}

func commands() map[string]command {
	return map[string]command{
		"login": {
			name:        "login",
			description: "Sign in with the identity provider and exchange the credential",
			run:         runLogin,
		},
		"logout": {
			name:        "logout",
			description: "Sign out and clear the stored session",
			run:         runLogout,
		},
		"delete-account": {
			name:        "delete-account",
			description: "Delete the signed-in account on the backend",
			run:         runDeleteAccount,
		},
		"status": {
			name:        "status",
			description: "Show the current session and account",
			run:         runStatus,
		},
		"watch": {
			name:        "watch",
			description: "Print session changes and optionally serve /metrics",
			run:         runWatch,
		},
		"history": {
			name:        "history",
			description: "List recorded session transitions",
			run:         runHistory,
		},
		"prune": {
			name:        "prune",
			description: "Delete old session transitions from the journal",
			run:         runPrune,
		},
		"migrate": {
			name:        "migrate",
			description: "Run Postgres journal migrations",
			run:         runMigrations,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: bemypet-auth <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-16s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func confirmAction(in io.Reader, out io.Writer, prompt string) error {
	if err := writef(out, "%s\nContinue? [y/N]: ", prompt); err != nil {
		return err
	}
	reader := bufio.NewReader(in)
	resp, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp != "y" && resp != "yes" {
		return errors.New("aborted by user")
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}
