package benchmarks

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

// newResultsTable creates the styled table the results are rendered into. Colors are
// dropped automatically when the terminal doesn't support them.
func newResultsTable(alignments ...lipgloss.Position) *lgtable.Table {
	border := lipgloss.NormalBorder()
	borderStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	if termenv.ColorProfile() == termenv.Ascii {
		borderStyle = lipgloss.NewStyle()
	}
	return lgtable.New().
		Border(border).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// WriteTable renders the suite's results as a table to w.
func (s *Suite) WriteTable(w io.Writer) {
	table := newResultsTable(lipgloss.Left, lipgloss.Left, lipgloss.Left,
		lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right)
	table.Headers("Size", "DType", "Path", "Min", "Median", "Mean", "Bandwidth")
	for _, result := range s.Results {
		table.Row(
			result.Size.String(),
			result.DType.String(),
			string(result.Path),
			result.Timing.Min.String(),
			result.Timing.Median.String(),
			result.Timing.Mean.String(),
			result.BandwidthString())
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
