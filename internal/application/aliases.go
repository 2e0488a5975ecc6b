package application

import (
	"strings"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

// Alias is a shell alias launching the external tool under one account.
type Alias struct {
	Name    string
	Command string
}

// Aliases builds one alias per account. The command re-enters the vault at
// launch time, so no secret is ever written into a shell profile.
func Aliases(accounts []model.AccountSummary, launcher string) []Alias {
	out := make([]Alias, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, Alias{
			Name:    "claude-" + acc.Name,
			Command: launcher + " launch " + acc.Name,
		})
	}
	return out
}

// RenderAliases formats aliases as a sourceable shell script.
func RenderAliases(aliases []Alias) string {
	var b strings.Builder
	b.WriteString("# Generated by claude-accounts. Do not edit.\n")
	for _, a := range aliases {
		b.WriteString("alias ")
		b.WriteString(a.Name)
		b.WriteString("='")
		b.WriteString(strings.ReplaceAll(a.Command, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
