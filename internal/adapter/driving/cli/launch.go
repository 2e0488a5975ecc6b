package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

func (a *app) launchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "launch <name> [-- claude args...]",
		Aliases: []string{"run"},
		Short:   "Run claude under an account",
		Long: `Run claude with the account's credential injected into its environment.
An expired OAuth session is refreshed first. Arguments after -- go to claude.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			name := args[0]

			env, err := rt.Vault.PrepareLaunchEnv(cmd.Context(), name)
			if err != nil {
				return err
			}

			bin, err := a.env.LookPath(a.env.Config.ClaudeBin)
			if err != nil {
				return fmt.Errorf("find %s: %w", a.env.Config.ClaudeBin, err)
			}

			environ := launchEnviron(a.env.Environ(), env)
			argv := append([]string{bin}, args[1:]...)

			cmd.PrintErrf("▶ claude → %s (%s)\n", name, strings.Join(env.Keys(), ", "))

			// Exec replaces the process, so deferred cleanup would never run.
			if err := rt.Close(); err != nil {
				a.env.Logger.Warn("error closing vault before launch", "error", err)
			}
			return a.env.Exec(bin, argv, environ)
		}),
	}
}

func (a *app) envCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env <name>",
		Short: "Print shell exports for an account",
		Long: `Print export statements carrying the account's credential, for use with
eval "$(claude-accounts env <name>)". The output contains a live secret.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			env, err := rt.Vault.PrepareLaunchEnv(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, conflicting := range conflictingVars(env) {
				fmt.Fprintf(out, "unset %s\n", conflicting)
			}
			for _, k := range env.Keys() {
				fmt.Fprintf(out, "export %s=%s\n", k, shellQuote(env[k]))
			}
			return nil
		}),
	}
}

// launchVars are the variables through which claude picks its credential.
var launchVars = []string{model.EnvAPIKey, model.EnvOAuthToken}

// conflictingVars returns the credential variables env does not set; they must
// be removed so claude does not pick a stale credential from the parent shell.
func conflictingVars(env model.LaunchEnv) []string {
	var out []string
	for _, v := range launchVars {
		if _, ok := env[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// launchEnviron returns base with every credential variable replaced by env.
func launchEnviron(base []string, env model.LaunchEnv) []string {
	out := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if slices.Contains(launchVars, key) {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range env.Keys() {
		out = append(out, k+"="+env[k])
	}
	return out
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
