// Package display renders the terminal output of standalone stage runs.
package display

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Start prints the opening banner of a stage.
func Start(w io.Writer, stage string) {
	fmt.Fprintln(w, boxStyle.Render(titleStyle.Render("START "+stage)))
}

// End prints the closing banner of a stage.
func End(w io.Writer, stage string) {
	fmt.Fprintln(w, boxStyle.Render(titleStyle.Render("END "+stage)))
}

// Tree prints where a sample's files will land.
func Tree(w io.Writer, tree layout.DirectoryTree) {
	rows := [][2]string{
		{"particle", string(tree.Particle())},
		{"running dir", tree.RunningDir},
		{"job logs", tree.JobLogs},
		{"DL1 dir", tree.DL1Dir},
		{"DL2 dir", tree.DL2Dir},
	}
	fmt.Fprintln(w, table(rows))
}

// Log prints the submissions of one stage log, grouped by particle.
func Log(w io.Writer, stage string, entries map[types.JobHandle]types.WorkflowLogEntry) {
	handles := make([]types.JobHandle, 0, len(entries))
	for h := range entries {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool {
		a, b := entries[handles[i]], entries[handles[j]]
		if a.Particle != b.Particle {
			return a.Particle < b.Particle
		}
		if a.SetType != b.SetType {
			return a.SetType < b.SetType
		}
		return lessHandle(handles[i], handles[j])
	})

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s · %d jobs", stage, len(entries))))
	for _, h := range handles {
		e := entries[h]
		b.WriteString("\n")
		label := string(e.Particle)
		if e.SetType != "" {
			label += " " + string(e.SetType)
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-8s %-24s", h, label)))
		if e.OutputPath != "" {
			b.WriteString(" -> " + e.OutputPath)
		}
	}
	fmt.Fprintln(w, boxStyle.Render(b.String()))
}

// Document prints every stage of a persisted workflow log.
func Document(w io.Writer, doc workflowlog.Document) {
	fmt.Fprintln(w, table([][2]string{
		{"run id", doc.RunID},
		{"production", doc.ProdID},
		{"created", doc.CreatedAt.Format("2006-01-02 15:04:05 MST")},
	}))
	for _, name := range doc.StageNames() {
		Log(w, name, doc.Stages[name])
	}
}

func table(rows [][2]string) string {
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-12s", r[0]))+" "+r[1])
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// lessHandle orders numeric handles numerically and anything else lexically.
func lessHandle(a, b types.JobHandle) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
