package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
)

const ruleWidth = 80

func rule(ch string) string { return strings.Repeat(ch, ruleWidth) }

// ColorReporter prints a colorized summary to W (os.Stdout by default).
type ColorReporter struct {
	W io.Writer
}

func (c ColorReporter) out(s string) {
	if c.W == nil {
		fmt.Print(s)
		return
	}
	fmt.Fprint(c.W, s)
}

func (c ColorReporter) Report(s Summary) {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(rule("=")))
	b.WriteString("\n")

	if !s.Failing() {
		b.WriteString(color.Green.Sprint("PASS"))
		b.WriteString("\n")
		b.WriteString(color.Bold.Sprint("Executions: "))
		b.WriteString(fmt.Sprintf("%d\n", s.Total))
		b.WriteString(color.Gray.Sprint(rule("=")))
		b.WriteString("\n")
		c.out(b.String())
		return
	}

	b.WriteString(color.Red.Sprint("FAIL"))
	b.WriteString("\n")
	b.WriteString(color.Bold.Sprint("Executions: "))
	b.WriteString(fmt.Sprintf("%d\n", s.Total))
	b.WriteString(color.Gray.Sprint(rule("-")))
	b.WriteString("\n")

	for kind, n := range s.Failures {
		b.WriteString(color.Bold.Sprint("Failure:  "))
		b.WriteString(color.Yellow.Sprintf("%s\n", kind))
		b.WriteString(color.Bold.Sprint("Count:    "))
		b.WriteString(fmt.Sprintf("%d\n", n))

		ex := s.Examples[kind]
		b.WriteString(color.Bold.Sprint("Trace:    "))
		b.WriteString(fmt.Sprintf("%d step(s)\n", len(ex.Trace)))
		for i, entry := range ex.Trace {
			b.WriteString(fmt.Sprintf("  %3d. %s\n", i+1, entry.Action.String()))
		}
		b.WriteString(color.Gray.Sprint(rule("-")))
		b.WriteString("\n")
	}

	b.WriteString(color.Gray.Sprint(rule("=")))
	b.WriteString("\n")
	c.out(b.String())
}
