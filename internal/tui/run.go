package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/recera/flipview/pkg/flipbook"
)

// Run opens the viewer full screen and blocks until it quits
func Run(src flipbook.DocumentSource, opts Options) error {
	m := New(src, opts)
	// All-motion tracking reports pointer position with no button held,
	// which drives toolbar reveal
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseAllMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running viewer: %w", err)
	}
	return nil
}
