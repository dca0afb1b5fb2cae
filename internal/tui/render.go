package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/recera/flipview/pkg/flipbook"
)

// Style definitions
var (
	primaryColor = lipgloss.Color("#3b82f6")
	warningColor = lipgloss.Color("#f59e0b")
	errorColor   = lipgloss.Color("#ef4444")
	mutedColor   = lipgloss.Color("#94a3b8")

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(errorColor).
			Padding(1, 2)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor)

	noticeStyle = lipgloss.NewStyle().
			Foreground(warningColor)
)

const (
	borderV = '│'
	borderH = '─'
	corner  = '+'
	blank   = '░'
)

// Regions of the content a cell falls on
const (
	outside = iota
	leftFace
	rightFace
)

// View renders the model
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	st := m.ctrl.State()
	switch st.Status {
	case flipbook.StatusLoading:
		return fmt.Sprintf("%s Loading %s...", m.spinner.View(), titleStyle.Render(m.title))
	case flipbook.StatusFailed:
		msg := errorStyle.Render("Could not open "+m.title) + "\n\n" + st.Error + "\n\n" +
			mutedStyle.Render("q to quit")
		return boxStyle.Render(msg)
	}

	lines := m.renderSpread()

	var overlay []string
	if m.showHelp {
		overlay = append(overlay, strings.Split(m.help.View(m.keys), "\n")...)
	}
	if st.ToolbarVisible || m.showHelp || m.jumping || m.notice != "" {
		overlay = append(overlay, m.statusLine(st))
	}
	if len(overlay) > len(lines) {
		overlay = overlay[len(overlay)-len(lines):]
	}
	copy(lines[len(lines)-len(overlay):], overlay)

	return strings.Join(lines, "\n")
}

func (m *Model) statusLine(st flipbook.State) string {
	if m.jumping {
		return m.jump.View()
	}
	if m.notice != "" {
		return noticeStyle.Render(m.notice)
	}

	parts := []string{
		m.title,
		fmt.Sprintf("p. %d/%d", st.CurrentPage, st.NumPages),
		fmt.Sprintf("%d%%", st.ZoomPercent),
		fmt.Sprintf("pan %.0f,%.0f", st.PanX, st.PanY),
	}
	switch {
	case st.Dragging:
		parts = append(parts, "dragging")
	case st.PanMode:
		parts = append(parts, "pan mode")
	}
	line := " " + strings.Join(parts, "  ")
	if w := lipgloss.Width(line); w < m.width {
		line += strings.Repeat(" ", m.width-w)
	}
	return statusStyle.MaxWidth(m.width).Render(line)
}

// renderSpread draws the visible part of the current sheet. Each cell is
// sampled at its center and mapped back through the pan/zoom transform.
func (m *Model) renderSpread() []string {
	t := m.ctrl.Transform()
	content := m.ctrl.ContentSize()
	pageW := content.W / 2

	// Cells past the viewport edge are sampled too, so clipped faces get no
	// border there
	regionAt := func(col, row int) int {
		px := (float64(col) + 0.5) * CellWidth
		py := (float64(row) + 0.5) * CellHeight
		cx := (px - t.X) / t.Scale
		cy := (py - t.Y) / t.Scale
		switch {
		case cx < 0 || cy < 0 || cx >= content.W || cy >= content.H:
			return outside
		case cx < pageW:
			return leftFace
		default:
			return rightFace
		}
	}

	var sheet flipbook.Sheet
	if m.sheet < len(m.sheets) {
		sheet = m.sheets[m.sheet]
	}
	faces := [...]int{leftFace: sheet.Left, rightFace: sheet.Right}

	grid := make([][]rune, m.height)
	for row := range grid {
		grid[row] = make([]rune, m.width)
		for col := range grid[row] {
			r := regionAt(col, row)
			if r == outside {
				grid[row][col] = ' '
				continue
			}
			h := regionAt(col-1, row) != r || regionAt(col+1, row) != r
			v := regionAt(col, row-1) != r || regionAt(col, row+1) != r
			switch {
			case h && v:
				grid[row][col] = corner
			case h:
				grid[row][col] = borderV
			case v:
				grid[row][col] = borderH
			case faces[r] == flipbook.Blank:
				grid[row][col] = blank
			default:
				grid[row][col] = ' '
			}
		}
	}

	for face := leftFace; face <= rightFace; face++ {
		page := faces[face]
		if page == flipbook.Blank {
			continue
		}
		cx := t.X + (float64(face-leftFace)+0.5)*pageW*t.Scale
		cy := t.Y + content.H/2*t.Scale
		label := []rune(fmt.Sprintf(" %d ", page))
		row := int(math.Floor(cy / CellHeight))
		col := int(math.Floor(cx/CellWidth)) - len(label)/2
		if row < 0 || row >= m.height {
			continue
		}
		for i, r := range label {
			if c := col + i; c >= 0 && c < m.width {
				grid[row][c] = r
			}
		}
	}

	lines := make([]string, m.height)
	for i, row := range grid {
		lines[i] = string(row)
	}
	return lines
}
