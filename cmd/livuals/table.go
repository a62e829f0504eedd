package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// listing is a CLI table. Headers print as written and empty cells as "-".
type listing struct {
	titles []string
	right  map[int]bool
	rows   []table.Row
}

func newListing(titles ...string) *listing {
	return &listing{titles: titles, right: make(map[int]bool)}
}

// alignRight right-aligns the given zero-based columns.
func (l *listing) alignRight(cols ...int) *listing {
	for _, c := range cols {
		l.right[c] = true
	}
	return l
}

// add appends a row; missing cells are blank and extra cells dropped.
func (l *listing) add(cells ...string) {
	row := make(table.Row, len(l.titles))
	for i := range row {
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		if v == "" {
			v = "-"
		}
		row[i] = v
	}
	l.rows = append(l.rows, row)
}

func (l *listing) render() string {
	if len(l.titles) == 0 {
		return ""
	}
	style := table.StyleRounded
	style.Format.Header = text.FormatDefault

	tw := table.NewWriter()
	tw.SetStyle(style)
	header := make(table.Row, len(l.titles))
	configs := make([]table.ColumnConfig, len(l.titles))
	for i, title := range l.titles {
		header[i] = title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if l.right[i] {
			configs[i].Align = text.AlignRight
		}
	}
	tw.AppendHeader(header)
	tw.AppendRows(l.rows)
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
