package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"sql-advisor/internal/model"
)

type ConsoleReporter struct {
	out io.Writer
}

func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{out: os.Stdout}
}

func (r *ConsoleReporter) Report(advisories []model.Advisory) error {
	if len(advisories) == 0 {
		fmt.Fprintln(r.out, color.GreenString("✔ No slow queries to analyze."))
		return nil
	}

	actionable := 0
	for i, adv := range advisories {
		header := color.New(color.FgWhite, color.Bold)
		fmt.Fprintf(r.out, "%s %s\n", header.Sprintf("[%d/%d]", i+1, len(advisories)), color.CyanString(truncate(adv.SQL, 100)))
		if adv.Table != "" {
			fmt.Fprintf(r.out, "\tTable: %s\n", adv.Table)
		}

		diagColor := color.New(color.FgYellow)
		if strings.Contains(adv.Diagnosis, "optimal state") {
			diagColor = color.New(color.FgGreen)
		} else if strings.Contains(adv.Diagnosis, "manual index verification required") {
			diagColor = color.New(color.FgMagenta, color.Bold)
		}
		fmt.Fprintf(r.out, "\tDiagnosis: %s\n", diagColor.Sprint(adv.Diagnosis))

		for _, stmt := range adv.Statements {
			fmt.Fprintf(r.out, "\t%s %s\n", color.New(color.FgBlue, color.Bold).Sprint("DDL:"), stmt)
		}
		if len(adv.Statements) > 0 {
			actionable++
			fmt.Fprintf(r.out, "\tExpected improvement: %d%% - %d%%\n", adv.Improvement.MinPct, adv.Improvement.MaxPct)
			fmt.Fprintf(r.out, "\tLatency: %.1fms -> %.1fms\n", adv.Latency.BeforeMs, adv.Latency.AfterMs)
		}
		fmt.Fprintln(r.out)
	}

	fmt.Fprintf(r.out, "Analyzed %d statements, %d with index recommendations.\n", len(advisories), actionable)
	return nil
}

// truncate shortens by runes so multibyte SQL text is never cut
// mid-sequence.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}
