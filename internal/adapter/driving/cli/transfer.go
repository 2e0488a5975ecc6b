package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

func (a *app) exportCommand() *cobra.Command {
	var (
		yes    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every account with secrets in clear as JSON",
		Long: `Export every account, including API keys and OAuth tokens in clear, as JSON.
Requires --yes or typing "export" at the prompt. With -o the file is written
readable by the owner only.`,
		Args: cobra.NoArgs,
		RunE: a.withRuntime(func(cmd *cobra.Command, _ []string, rt *Runtime) error {
			if !yes {
				if !a.env.IsTerminal() {
					return errors.New("export writes secrets in clear; pass --yes to confirm")
				}
				if err := a.confirm(cmd, `This prints every secret in clear. Type "export" to continue: `, "export"); err != nil {
					return fmt.Errorf("export %w", err)
				}
			}

			records, err := rt.Vault.Export(cmd.Context())
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return fmt.Errorf("encode export: %w", err)
			}
			data = append(data, '\n')

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := writePrivateFile(output, data); err != nil {
				return err
			}
			cmd.Printf("✓ Exported %d account(s) → %s\n", len(records), output)
			return nil
		}),
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm exporting secrets in clear")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

func (a *app) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import accounts from an export file, skipping existing names",
		Long:  `Import accounts from a JSON export. Use "-" to read from stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *Runtime) error {
			data, err := a.readInput(args[0])
			if err != nil {
				return err
			}

			var records []model.ExportRecord
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			added, err := rt.Vault.Import(cmd.Context(), records)
			if err != nil {
				return err
			}
			cmd.Printf("✓ Imported %d of %d account(s)\n", added, len(records))
			return nil
		}),
	}
}

func (a *app) readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(a.env.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
