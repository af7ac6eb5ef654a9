package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/dataherald/console/client"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(querystatus.Orange.Hex()))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(querystatus.Red.Hex()))
	keyStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 1).Border(lipgloss.RoundedBorder())
)

const dateLayout = "2006-01-02 15:04"

// statusBadge renders a display status in its color. Queries whose status
// could not be classified show their raw status, muted.
func statusBadge(status querystatus.DisplayStatus, color querystatus.DisplayColor, label string, raw querystatus.RawStatus) string {
	if status == "" {
		return mutedStyle.Render(string(raw))
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color.Hex())).Render(label)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	return table
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderQueries(w io.Writer, views []models.QueryView) {
	if len(views) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No queries found."))
		return
	}

	table := newTable(w, "ID", "User", "Question", "Asked", "Response", "Status")
	for _, v := range views {
		table.Append([]string{
			v.ID,
			v.Username,
			truncate(v.Question, 48),
			v.QuestionDate.Local().Format(dateLayout),
			truncate(v.NLResponse, 40),
			statusBadge(v.DisplayStatus, v.DisplayColor, v.Label, v.Status),
		})
	}
	table.Render()
}

func renderQuery(w io.Writer, d *models.QueryDetail) {
	fmt.Fprintln(w, titleStyle.Render(d.Question))
	fmt.Fprintf(w, "%s  %s  %s\n",
		statusBadge(d.DisplayStatus, d.DisplayColor, d.Label, d.Status),
		mutedStyle.Render(d.Username),
		mutedStyle.Render(d.QuestionDate.Local().Format(dateLayout)))
	if d.DisplayStatus == querystatus.DisplayVerified || d.DisplayStatus == "" {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s\n\n", mutedStyle.Render("Confidence score: "+strconv.FormatFloat(d.EvaluationScore, 'f', -1, 64)))
	}

	if d.NLResponse != "" {
		fmt.Fprintln(w, titleStyle.Render("Response"))
		fmt.Fprintf(w, "%s\n\n", d.NLResponse)
	}

	fmt.Fprintln(w, titleStyle.Render("SQL"))
	fmt.Fprintf(w, "%s\n\n", d.SQLQuery)

	if d.SQLErrorMessage != "" {
		fmt.Fprintln(w, errorStyle.Render("SQL error"))
		fmt.Fprintf(w, "%s\n\n", d.SQLErrorMessage)
	}

	if res := d.SQLQueryResult; res != nil && len(res.Columns) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Result"))
		table := newTable(w, res.Columns...)
		for _, row := range res.Rows {
			cells := make([]string, len(res.Columns))
			for i, col := range res.Columns {
				if v, ok := row[col]; ok && v != nil {
					cells[i] = fmt.Sprint(v)
				}
			}
			table.Append(cells)
		}
		table.Render()
		fmt.Fprintln(w)
	}

	if len(d.AIProcess) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Process"))
		for i, step := range d.AIProcess {
			fmt.Fprintf(w, "%d. %s\n", i+1, step)
		}
	}
}

func renderQueryView(w io.Writer, action string, v *models.QueryView) {
	fmt.Fprintf(w, "%s %s: %s\n", action, v.ID,
		statusBadge(v.DisplayStatus, v.DisplayColor, v.Label, v.Status))
}

func renderAPIKeys(w io.Writer, keys []*models.APIKey) {
	if len(keys) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No API keys yet."))
		return
	}

	table := newTable(w, "ID", "Name", "Key", "Created", "Last used")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Local().Format(dateLayout)
		}
		table.Append([]string{
			k.ID,
			k.Name,
			k.KeyPrefix + "…",
			k.CreatedAt.Local().Format(dateLayout),
			lastUsed,
		})
	}
	table.Render()
}

func renderCensus(w io.Writer, c *models.StatusCensus) {
	table := newTable(w, "Status", "Queries")
	for _, s := range querystatus.DisplayStatuses() {
		color, _ := querystatus.ColorOf(s)
		table.Append([]string{
			statusBadge(s, color, querystatus.Format(s), ""),
			strconv.FormatInt(c.Counts[s], 10),
		})
	}
	if c.Unclassifiable > 0 {
		table.Append([]string{warningStyle.Render("unrecognized"), strconv.FormatInt(c.Unclassifiable, 10)})
	}
	table.SetFooter([]string{"total", strconv.FormatInt(c.Total, 10)})
	table.Render()
	fmt.Fprintln(w, mutedStyle.Render("Taken "+c.TakenAt.Local().Format(time.RFC1123)))
}

func renderGeneratedKey(w io.Writer, key *models.GeneratedAPIKey) {
	fmt.Fprintln(w, titleStyle.Render(client.GeneratedTitle))
	fmt.Fprintln(w, keyStyle.Render(key.APIKey))
	fmt.Fprintln(w, warningStyle.Render(wrap(client.SaveKeyWarning, 72)))
}

func wrap(s string, width int) string {
	var b strings.Builder
	line := 0
	for i, word := range strings.Fields(s) {
		if i > 0 {
			if line+1+len(word) > width {
				b.WriteByte('\n')
				line = 0
			} else {
				b.WriteByte(' ')
				line++
			}
		}
		b.WriteString(word)
		line += len(word)
	}
	return b.String()
}
