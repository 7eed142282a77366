package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/kalambet/otwatch/internal/threat"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	stepColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
)

func printSuccess(format string, args ...any) {
	successColor.Fprintf(os.Stderr, "✓ "+format+"\n", args...)
}

func printError(format string, args ...any) {
	errorColor.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

func printWarning(format string, args ...any) {
	warnColor.Fprintf(os.Stderr, "⚠ "+format+"\n", args...)
}

func printStep(format string, args ...any) {
	stepColor.Fprintf(os.Stderr, "→ "+format+"\n", args...)
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", boldColor.Sprint(label+":"), val)
}

// severity renders a CVSS score colored by band.
func severity(score float64) string {
	if score <= 0 {
		return color.New(color.Faint).Sprint("N/A")
	}
	s := fmt.Sprintf("%.1f", score)
	switch threat.Band(score) {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case "high":
		return color.New(color.FgRed).Sprint(s)
	case "medium":
		return color.New(color.FgYellow).Sprint(s)
	default:
		return color.New(color.FgGreen).Sprint(s)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
	table.Header(header)
	table.Bulk(rows)
	table.Render()
}
