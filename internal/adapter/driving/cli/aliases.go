package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/claude-accounts/internal/application"
)

const aliasesFileName = "aliases.sh"

func (a *app) aliasesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "aliases",
		Short: "Print a claude-<name> shell alias per account",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(cmd *cobra.Command, _ []string, rt *Runtime) error {
			accounts, err := rt.Vault.List(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), application.RenderAliases(application.Aliases(accounts, a.env.Launcher)))
			return nil
		}),
	}
}

func (a *app) installCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Write the aliases file and source it from ~/.bashrc and ~/.zshrc",
		Args:  cobra.NoArgs,
		RunE: a.withRuntime(func(cmd *cobra.Command, _ []string, rt *Runtime) error {
			accounts, err := rt.Vault.List(cmd.Context())
			if err != nil {
				return err
			}

			path := filepath.Join(a.env.Config.Home, aliasesFileName)
			script := application.RenderAliases(application.Aliases(accounts, a.env.Launcher))
			if err := writePrivateFile(path, []byte(script)); err != nil {
				return err
			}
			cmd.Printf("✓ Aliases → %s\n", path)

			sourceLine := fmt.Sprintf("source %s", shellQuote(path))
			for _, rc := range []string{".bashrc", ".zshrc"} {
				added, err := appendSourceLine(filepath.Join(a.env.UserHome, rc), sourceLine)
				if err != nil {
					return err
				}
				if added {
					cmd.Printf("✓ Added source line to ~/%s\n", rc)
				}
			}

			cmd.Printf("\nRestart your shell or run: source %s\n", path)
			return nil
		}),
	}
}

// writePrivateFile atomically replaces path with data, readable by the owner only.
func writePrivateFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// appendSourceLine adds line to an existing shell rc file unless present.
// Missing rc files are left alone.
func appendSourceLine(rcPath, line string) (bool, error) {
	data, err := os.ReadFile(rcPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", rcPath, err)
	}
	if strings.Contains(string(data), line) {
		return false, nil
	}

	f, err := os.OpenFile(rcPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", rcPath, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n# claude-accounts\n%s\n", line); err != nil {
		return false, fmt.Errorf("append %s: %w", rcPath, err)
	}
	return true, nil
}
