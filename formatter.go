package harness

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RunTableRow is one line of the test runs table printed by the driver.
type RunTableRow struct {
	RunID   string
	Percent float64
	Status  string
}

// RenderRunsTable prints the state of the known test runs to the console.
func RenderRunsTable(out io.Writer, title string, rows []RunTableRow) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(title)

	t.AppendHeader(table.Row{"Test Run", "Progress", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test Run", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Progress", Align: text.AlignRight},
	})

	completed := 0
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.RunID,
			formatPercent(row.Percent),
			row.Status,
		})
		if row.Percent >= 100 {
			completed++
		}
	}

	if completed == len(rows) && len(rows) > 0 {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d runs", len(rows)),
		fmt.Sprintf("%d completed", completed),
	})
	t.Render()
}

func formatPercent(percent float64) string {
	if percent < 0 {
		return "?"
	}
	return fmt.Sprintf("%.1f%%", percent)
}
