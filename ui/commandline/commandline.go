// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools to run executables from the command line:
// a progress bar for repeated calls and tables to report their outputs.
package commandline

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/inferbridge/pkg/core/tensors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	// TitleStyle is used for the titles of the reports.
	TitleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// NewTable returns a table with alternating row styles. If headers are given, they are rendered
// in reverse video. The first column is right-aligned.
func NewTable(headers ...string) *lgtable.Table {
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
	if len(headers) > 0 {
		t = t.Headers(headers...)
	}
	return t
}

// OutputsTable renders one row per output tensor: its name, shape, number of elements,
// size in bytes and up to maxElements leading values.
//
// names and outputs must have the same length.
func OutputsTable(names []string, outputs []*tensors.Tensor, maxElements int) string {
	table := NewTable("Output", "Shape", "Size", "Bytes", "Values")
	for ii, output := range outputs {
		if output == nil || !output.Ok() {
			table.Row(names[ii], "-", "-", "-", "<invalid>")
			continue
		}
		table.Row(names[ii], output.Shape().String(),
			humanize.Comma(int64(output.Size())),
			humanize.Bytes(uint64(output.SizeInBytes())),
			output.Summary(maxElements))
	}
	return table.Render()
}

// KeyValueTable renders a table of pairs, typically used for summaries.
func KeyValueTable(pairs ...[2]string) string {
	table := NewTable()
	for _, pair := range pairs {
		table.Row(pair[0], pair[1])
	}
	return table.Render()
}

func humanizeInt[I interface {
	uint64 | uint32 | uint16 | uint8 | int64 | int32 | int16 | int8 | int
}](nI I) string {
	n := int(nI)
	str := fmt.Sprintf("%d", n)
	result := make([]byte, 0, len(str)+len(str)/3)
	strLen := len(str)
	for i := strLen - 1; i >= 0; i-- {
		if (strLen-i-1)%3 == 0 && i < strLen-1 {
			result = append([]byte{'_'}, result...)
		}
		result = append([]byte{str[i]}, result...)
	}
	return string(result)
}
