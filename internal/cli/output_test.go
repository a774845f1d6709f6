package cli

import (
	"bytes"
	"strings"
	"testing"
)

func testOutput(buf *bytes.Buffer, color bool) *Output {
	return &Output{writer: buf, colorEnabled: color}
}

func TestStripANSI(t *testing.T) {
	colored := ColorGreen + "+$120.00" + ColorReset
	if got := stripANSI(colored); got != "+$120.00" {
		t.Errorf("stripANSI = %q", got)
	}
	if got := stripANSI("plain"); got != "plain" {
		t.Errorf("stripANSI(plain) = %q", got)
	}
}

func TestPnLColor(t *testing.T) {
	var buf bytes.Buffer
	o := testOutput(&buf, true)
	if o.PnLColor(50) != ColorGreen {
		t.Error("gains must be green")
	}
	if o.PnLColor(-50) != ColorRed {
		t.Error("losses must be red")
	}
	if o.PnLColor(0) != ColorWhite {
		t.Error("flat must be white")
	}
}

func TestColoredStringRespectsColorMode(t *testing.T) {
	var buf bytes.Buffer
	if got := testOutput(&buf, false).ColoredString(ColorRed, "x"); got != "x" {
		t.Errorf("colors disabled: %q", got)
	}
	if got := testOutput(&buf, true).ColoredString(ColorRed, "x"); got != ColorRed+"x"+ColorReset {
		t.Errorf("colors enabled: %q", got)
	}
}

func TestTableAlignsOnVisibleWidth(t *testing.T) {
	var buf bytes.Buffer
	o := testOutput(&buf, true)

	table := NewTable(o, "Metric", "Value")
	table.AddRow("Total return", o.FormatPercentColored(4.5))
	table.AddRow("Trades", "3")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + separator + 2 rows", len(lines))
	}
	// Color codes must not skew the column widths.
	widths := make(map[int]bool)
	for _, line := range lines[1:] {
		widths[len(stripANSI(line))] = true
	}
	if len(widths) != 1 {
		t.Errorf("uneven visible row widths: %q", lines)
	}
	if !strings.Contains(lines[1], "---") {
		t.Errorf("missing separator line: %q", lines[1])
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf, jsonMode: true}
	if !o.IsJSON() {
		t.Fatal("expected JSON mode")
	}
	if err := o.JSON(map[string]int{"trades": 3}); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !strings.Contains(buf.String(), "\"trades\": 3") {
		t.Errorf("output = %q", buf.String())
	}
}
