package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	statusStyles = map[model.Status]lipgloss.Style{
		model.StatusValid:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		model.StatusExpiringSoon: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		model.StatusExpired:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		model.StatusNeedsLogin:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// renderStatus colors a status for terminal output.
func renderStatus(s model.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// renderAccounts writes the accounts as a bordered table.
func renderAccounts(w io.Writer, accounts []model.AccountSummary) {
	rows := make([][]string, 0, len(accounts))
	for _, acc := range accounts {
		rows = append(rows, []string{
			acc.Name,
			string(acc.Kind),
			renderStatus(acc.Status),
			formatExpiry(acc),
			formatLastUsed(acc.LastUsedAt),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("NAME", "TYPE", "STATUS", "EXPIRES", "LAST USED").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	fmt.Fprintln(w, t.Render())
}

// renderSummary writes one account as labeled lines.
func renderSummary(w io.Writer, s *model.AccountSummary) {
	fmt.Fprintf(w, "  Account:    %s\n", s.Name)
	fmt.Fprintf(w, "  Type:       %s\n", s.Kind)
	fmt.Fprintf(w, "  Status:     %s\n", renderStatus(s.Status))
	if s.CredentialID != "" {
		fmt.Fprintf(w, "  Credential: %s\n", s.CredentialID)
	}
	if s.Kind == model.KindOAuth {
		fmt.Fprintf(w, "  Expires:    %s\n", formatExpiry(*s))
		if s.CredentialID != "" {
			fmt.Fprintf(w, "  Refresh:    %s\n", presence(s.HasRefresh))
		}
	}
	fmt.Fprintf(w, "  Last used:  %s\n", formatLastUsed(s.LastUsedAt))
}

func formatExpiry(s model.AccountSummary) string {
	switch {
	case s.Kind == model.KindAPIKey, s.ExpiresAt.IsZero():
		return "-"
	case s.ExpiresIn > 0:
		return "in " + formatDuration(s.ExpiresIn)
	default:
		return "expired"
	}
}

func formatLastUsed(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// formatDuration renders d rounded to minutes without trailing zero units.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	s := d.Round(time.Minute).String()
	s = strings.TrimSuffix(s, "0s")
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}
