package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"salesetl/internal/pipeline"

	"github.com/olekukonko/tablewriter"
)

// RenderRunReport writes a human summary of one run.
func RenderRunReport(w io.Writer, report *pipeline.RunReport) {
	fmt.Fprintf(w, "\n%s %s  %s\n", ColorBold("Run"), report.RunID, stateLabel(report))
	fmt.Fprintf(w, "%s %s\n", ColorDim("Duration:"), report.Duration().Round(time.Millisecond))

	if report.State == pipeline.StateSkipped {
		fmt.Fprintln(w, ColorWarning("Another run held the run lock, nothing was done."))
		return
	}

	if len(report.Extractors) > 0 {
		rows := make([][]string, 0, len(report.Extractors))
		for _, e := range report.Extractors {
			rows = append(rows, []string{e.Name, strconv.Itoa(e.Sales), status(e.Error)})
		}
		renderTable(w, []string{"Source", "Sales", "Status"}, rows)
	}

	if report.DimensionsSkipped {
		fmt.Fprintln(w, ColorWarning("No dimension bundle was extracted, dimension loads skipped."))
	}
	if len(report.Dimensions) > 0 {
		dims := append([]pipeline.DimensionReport(nil), report.Dimensions...)
		sort.Slice(dims, func(i, j int) bool { return dims[i].Table < dims[j].Table })

		rows := make([][]string, 0, len(dims))
		for _, d := range dims {
			rows = append(rows, []string{d.Table, strconv.Itoa(d.Rows), status(d.Error)})
		}
		renderTable(w, []string{"Dimension", "Rows", "Status"}, rows)
	}

	if report.Facts != nil {
		rows := [][]string{
			{"inserted", strconv.Itoa(report.Facts.Inserted)},
			{"failed", strconv.Itoa(report.Facts.Failed)},
		}
		reasons := make([]string, 0, len(report.Facts.Dropped))
		for reason := range report.Facts.Dropped {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			rows = append(rows, []string{"dropped (" + reason + ")", strconv.Itoa(report.Facts.Dropped[reason])})
		}
		renderTable(w, []string{"Facts", "Rows"}, rows)
	}
	if report.FactError != "" {
		fmt.Fprintf(w, "%s %s\n", ColorError("Fact load failed:"), report.FactError)
	}
	if report.State == pipeline.StateError {
		fmt.Fprintf(w, "%s %s: %s\n", ColorError("Run aborted in"), report.FailedPhase, report.Error)
	}
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

func stateLabel(report *pipeline.RunReport) string {
	switch {
	case report.State == pipeline.StateError:
		return ColorError(string(report.State))
	case report.State == pipeline.StateSkipped:
		return ColorWarning(string(report.State))
	case report.Degraded():
		return ColorWarning(string(report.State) + " (partial)")
	default:
		return ColorSuccess(string(report.State))
	}
}

func status(errMsg string) string {
	if errMsg == "" {
		return ColorSuccess("ok")
	}
	return ColorError(firstLine(errMsg))
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
