package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// newTable returns a light-style table writing to out. markdown switches to
// GitHub-flavoured output.
func newTable(out io.Writer, markdown bool, header ...any) *tableWriter {
	w := table.NewWriter()
	w.SetOutputMirror(out)
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row(header))
	return &tableWriter{w: w, markdown: markdown}
}

type tableWriter struct {
	w        table.Writer
	markdown bool
}

func (t *tableWriter) row(vals ...any) { t.w.AppendRow(table.Row(vals)) }

func (t *tableWriter) alignRight(cols ...int) {
	cfgs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		cfgs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight}
	}
	t.w.SetColumnConfigs(cfgs)
}

func (t *tableWriter) render() {
	if t.markdown {
		t.w.RenderMarkdown()
		return
	}
	t.w.Render()
}
