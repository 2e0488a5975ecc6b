// Package cli is the cobra command tree of the claude-accounts binary.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/claude-accounts/internal/adapter/driving/http"
	"github.com/ericfisherdev/claude-accounts/internal/application"
	"github.com/ericfisherdev/claude-accounts/internal/config"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driving"
)

// Runtime is the set of wired services a command runs against.
type Runtime struct {
	Vault    driving.AccountVault
	Health   httphandler.HealthChecker
	Keeper   *application.KeeperService // nil when background refresh is disabled
	Gatherer prometheus.Gatherer
	Close    func() error
}

// Opener builds a Runtime from the resolved configuration.
type Opener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error)

// Env carries everything the command tree needs from the process.
type Env struct {
	Config   *config.Config
	Open     Opener
	Logger   *slog.Logger
	Level    *slog.LevelVar
	UserHome string
	Launcher string // command name written into aliases

	Stdin      io.Reader
	IsTerminal func() bool
	LookPath   func(file string) (string, error)
	Exec       func(argv0 string, argv []string, envv []string) error
	Environ    func() []string
}

// app is the state shared by all commands of one invocation.
type app struct {
	env     *Env
	verbose bool
}

// NewRootCommand creates the claude-accounts command tree.
func NewRootCommand(env *Env) *cobra.Command {
	if env.Exec == nil {
		env.Exec = syscall.Exec
	}
	if env.Environ == nil {
		env.Environ = os.Environ
	}
	if env.Stdin == nil {
		env.Stdin = os.Stdin
	}
	if env.IsTerminal == nil {
		env.IsTerminal = func() bool { return false }
	}
	if env.Launcher == "" {
		env.Launcher = "claude-accounts"
	}
	if env.Level == nil {
		env.Level = new(slog.LevelVar)
	}

	a := &app{env: env}

	root := &cobra.Command{
		Use:   "claude-accounts",
		Short: "Manage several Claude accounts with one shared ~/.claude",
		Long: `claude-accounts keeps API keys and OAuth sessions for the claude CLI in an
encrypted local vault and launches claude under the account you pick.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if a.verbose {
				a.env.Level.Set(slog.LevelDebug)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.addCommand(),
		a.loginCommand(),
		a.refreshCommand(),
		a.statusCommand(),
		a.listCommand(),
		a.removeCommand(),
		a.launchCommand(),
		a.envCommand(),
		a.aliasesCommand(),
		a.installCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.serveCommand(),
	)

	return root
}

// runFunc is a command body that needs an open Runtime.
type runFunc func(cmd *cobra.Command, args []string, rt *Runtime) error

// withRuntime opens the Runtime before fn and closes it afterwards.
func (a *app) withRuntime(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := a.env.Open(cmd.Context(), a.env.Config, a.env.Logger)
		if err != nil {
			return err
		}

		closeOnce := sync.OnceValue(func() error {
			if rt.Close == nil {
				return nil
			}
			return rt.Close()
		})
		rt.Close = closeOnce
		defer func() {
			if err := closeOnce(); err != nil {
				a.env.Logger.Error("error closing vault", "error", err)
			}
		}()

		return fn(cmd, args, rt)
	}
}
