package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/insight"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// printResponse writes one answer: the narrative, a preview of the rows and,
// when asked for, the SQL that produced them.
func printResponse(w io.Writer, cat *catalog.Catalog, resp *models.TurnResponse, showSQL bool) {
	if resp.Clarification != nil {
		fmt.Fprintln(w, resp.Clarification.Message)
		return
	}
	if resp.Insight != nil {
		fmt.Fprintln(w, resp.Insight.Narrative)
	}

	if s := resp.ResultSummary; s != nil && len(s.Preview) > 0 {
		fmt.Fprintln(w)
		printPreview(w, cat, resp.Plan, s)
		if s.RowCount > len(s.Preview) {
			fmt.Fprintf(w, "(%d of %d rows shown)\n", len(s.Preview), s.RowCount)
		}
	}
	if resp.Hint != "" {
		fmt.Fprintln(w, resp.Hint)
	}
	if showSQL && resp.GeneratedQuery != "" {
		fmt.Fprintf(w, "\n%s\n", resp.GeneratedQuery)
	}
}

func printPreview(w io.Writer, cat *catalog.Catalog, plan *models.QueryPlan, s *models.ResultSummary) {
	units := make(map[string]catalog.Unit)
	if plan != nil {
		for _, item := range plan.MetricItems() {
			switch {
			case item.Metric == "":
				units[item.Alias] = catalog.UnitCount
			default:
				if m, ok := cat.Metric(item.Metric); ok {
					units[item.Alias] = m.Unit
				}
			}
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)

	header := make([]string, len(s.Columns))
	align := make([]int, len(s.Columns))
	for i, c := range s.Columns {
		header[i] = strings.ReplaceAll(c, "_", " ")
		align[i] = tablewriter.ALIGN_LEFT
		if _, ok := units[c]; ok {
			align[i] = tablewriter.ALIGN_RIGHT
		}
	}
	table.SetHeader(header)
	table.SetColumnAlignment(align)

	for _, row := range s.Preview {
		cells := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			cells[i] = cellText(row[c], units[c])
		}
		table.Append(cells)
	}
	table.Render()
}

func cellText(v any, unit catalog.Unit) string {
	if v == nil {
		return "-"
	}
	if unit != "" {
		switch n := v.(type) {
		case float64:
			return insight.FormatNumber(n, unit)
		case int64:
			return insight.FormatNumber(float64(n), unit)
		case int:
			return insight.FormatNumber(float64(n), unit)
		}
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(dateLayout)
	}
	return fmt.Sprint(v)
}

// printTable renders a simple bordered table.
func printTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}
