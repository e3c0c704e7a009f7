package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/agentcore/framework"
	"github.com/lexcodex/agentcore/persistence"
)

var (
	colorPrimary   = lipgloss.Color("39")
	colorSecondary = lipgloss.Color("86")
	colorSuccess   = lipgloss.Color("42")
	colorWarning   = lipgloss.Color("220")
	colorError     = lipgloss.Color("196")
	colorDim       = lipgloss.Color("241")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	sectionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorSecondary)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	completedStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	answerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResult(w io.Writer, result *framework.AgentResult, asJSON bool) error {
	if asJSON {
		return writeJSON(w, result)
	}
	_, err := io.WriteString(w, renderResult(result))
	return err
}

func statusStyle(status framework.RunStatus) lipgloss.Style {
	switch status {
	case framework.StatusCompleted:
		return completedStyle
	case framework.StatusCancelled, framework.StatusMaxIterationsExceeded:
		return warningStyle
	default:
		return errorStyle
	}
}

// renderResult formats a run for the terminal.
func renderResult(result *framework.AgentResult) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Run %s (%s)", result.RunID, result.Strategy)))
	b.WriteString(" ")
	b.WriteString(statusStyle(result.Status).Render(string(result.Status)))
	b.WriteString("\n")
	if result.Task != nil {
		b.WriteString(dimStyle.Render("Task: " + result.Task.Instruction))
		b.WriteString("\n")
	}
	if result.Plan != nil && result.Plan.Goal != "" {
		b.WriteString(dimStyle.Render("Goal: " + result.Plan.Goal))
		b.WriteString("\n")
	}
	if len(result.Trace) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionHeaderStyle.Render(fmt.Sprintf("Trace (%d steps)", len(result.Trace))))
		b.WriteString("\n")
		for _, entry := range result.Trace {
			b.WriteString(renderTraceEntry(entry))
		}
	}
	if len(result.Audit) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionHeaderStyle.Render(fmt.Sprintf("Denied (%d)", len(result.Audit))))
		b.WriteString("\n")
		b.WriteString(renderAuditRecords(result.Audit))
	}
	if result.Error != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("%s: %s", result.Category, result.Error)))
		b.WriteString("\n")
	}
	if result.FinalAnswer != "" {
		b.WriteString("\n")
		b.WriteString(answerBoxStyle.Render(strings.TrimRight(result.FinalAnswer, "\n")))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s · %s", result.Summary, formatDuration(result))))
	b.WriteString("\n")
	return b.String()
}

func renderTraceEntry(entry framework.TraceEntry) string {
	icon := completedStyle.Render("✓")
	if !entry.Succeeded() {
		icon = errorStyle.Render("✗")
	}
	line := fmt.Sprintf("%s step_%d %s %s", icon, entry.Index, entry.Tool, dimStyle.Render(compactArgs(entry.Arguments)))
	if entry.Error != "" {
		line += "\n    " + errorStyle.Render(entry.Error)
	} else if entry.Result != nil {
		if out := firstLine(entry.Result.Output()); out != "" {
			line += "\n    " + dimStyle.Render(out)
		}
	}
	if entry.Thought != "" {
		line += "\n    " + dimStyle.Render("thought: "+firstLine(entry.Thought))
	}
	return line + "\n"
}

func renderAuditRecords(records []framework.AuditRecord) string {
	if len(records) == 0 {
		return dimStyle.Render("no denied actions") + "\n"
	}
	var b strings.Builder
	for _, record := range records {
		reason, _ := record.Metadata["error"].(string)
		fmt.Fprintf(&b, "%s %s %s %s %s\n",
			dimStyle.Render(record.Timestamp.Format("2006-01-02 15:04:05")),
			warningStyle.Render(record.Result),
			record.Tool,
			dimStyle.Render(record.RunID),
			reason,
		)
	}
	return b.String()
}

func renderBatchLine(n int, result *framework.AgentResult) string {
	status := statusStyle(result.Status).Render(fmt.Sprintf("%-24s", result.Status))
	line := fmt.Sprintf("%3d %s %s", n, status, result.Task.Instruction)
	if result.Error != "" {
		line += " " + dimStyle.Render("("+result.Error+")")
	}
	return line
}

func renderRunSummaries(runs []persistence.RunSummary) string {
	if len(runs) == 0 {
		return "No archived runs.\n"
	}
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(fmt.Sprintf("%s  %s  %-6s %s  %d step(s)  %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Strategy,
			statusStyle(run.Status).Render(string(run.Status)),
			run.Steps,
			dimStyle.Render(framework.Clip(run.Instruction, 60)),
		))
	}
	return b.String()
}

func renderToolSchemas(schemas []framework.ToolSchema) string {
	var b strings.Builder
	for _, schema := range schemas {
		b.WriteString(headerStyle.Render(schema.Name))
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(fmt.Sprintf("[%s, %s]", schema.Category, schema.Effect)))
		b.WriteString("\n  ")
		b.WriteString(schema.Description)
		b.WriteString("\n")
		for _, param := range schema.Parameters {
			req := ""
			if param.Required {
				req = " (required)"
			}
			b.WriteString(fmt.Sprintf("    - %s: %s%s %s\n", param.Name, param.Type, req, dimStyle.Render(param.Description)))
		}
	}
	return b.String()
}

func compactArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, framework.Clip(firstLine(framework.Stringify(args[k])), 40)))
	}
	return strings.Join(parts, " ")
}

func formatDuration(result *framework.AgentResult) string {
	if result.StartedAt.IsZero() || result.FinishedAt.IsZero() {
		return ""
	}
	return result.FinishedAt.Sub(result.StartedAt).Round(1e6).String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
