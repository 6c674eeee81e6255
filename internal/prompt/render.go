package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Padding(0, 2)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 3)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))
)

const divider = "─────────────────────────────────────────────────"

// Banner renders the program title with a subtitle.
func Banner(subtitle string) string {
	title := titleStyle.Render("deskrelay")
	if subtitle == "" {
		return title
	}
	return title + "\n" + mutedStyle.Render("  Remote desktop relay - "+subtitle)
}

// AuthCodeCard renders the code an agent reads out to the person being
// helped. The digits are split in two groups of three.
func AuthCodeCard(code string, sessionID int) string {
	display := code
	if len(code) == 6 {
		display = code[:3] + " " + code[3:]
	}
	body := lipgloss.JoinVertical(lipgloss.Center,
		mutedStyle.Render("Auth code"),
		codeStyle.Render(display),
		mutedStyle.Render(fmt.Sprintf("session %d", sessionID)),
	)
	return boxStyle.Render(body)
}

// SessionRow is one line of the agent's session table.
type SessionRow struct {
	ClientID   string
	Name       string
	OS         string
	Resolution string
	FPS        float64
	Since      time.Time
}

// SessionTable renders the bound sessions against the capacity.
func SessionTable(rows []SessionRow, capacity int, now time.Time) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Sessions %d/%d", len(rows), capacity)))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(divider))
	b.WriteString("\n")

	if len(rows) == 0 {
		b.WriteString(mutedStyle.Render("  waiting for clients"))
		b.WriteString("\n")
		return b.String()
	}

	for _, r := range rows {
		id := r.ClientID
		if len(id) > 8 {
			id = id[:8]
		}
		since := "-"
		if !r.Since.IsZero() {
			since = humanize.RelTime(r.Since, now, "ago", "from now")
		}
		fmt.Fprintf(&b, "  %-8s  %-16s  %-14s  %-9s  %5.1f fps  %s\n",
			id, r.Name, r.OS, r.Resolution, r.FPS, since)
	}
	return b.String()
}

// Summary renders the result of a setup run.
func Summary(a Answers) string {
	var b strings.Builder
	b.WriteString("\n" + mutedStyle.Render(divider) + "\n")
	b.WriteString(okStyle.Render("✓ Setup Complete!") + "\n")
	b.WriteString(mutedStyle.Render(divider) + "\n\n")
	fmt.Fprintf(&b, "  Role:         %s\n", a.Role)
	fmt.Fprintf(&b, "  Relay:        %s\n", a.ServerURL)
	fmt.Fprintf(&b, "  Config file:  %s\n", a.ConfigPath)
	b.WriteString("\n  To start:\n")
	fmt.Fprintf(&b, "    deskrelay %s -c %s\n", a.Role, a.ConfigPath)
	return b.String()
}
