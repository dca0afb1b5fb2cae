// Package tui is a terminal host for the flipbook controller. Mouse drags,
// wheel and keys become controller events; the visible part of the current
// spread is drawn as a character grid.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/recera/flipview/pkg/document"
	"github.com/recera/flipview/pkg/flipbook"
)

const (
	// CellWidth and CellHeight are the viewport pixels covered by one
	// terminal cell
	CellWidth  = 8
	CellHeight = 16

	DefaultWheelStep = 40

	mousePointer = 1
)

// Options configures the terminal viewer
type Options struct {
	Title     string
	Viewer    flipbook.Options
	WheelStep float64
	Logger    *zap.Logger
}

type loadedMsg struct{ pages int }

type loadFailedMsg struct{ err error }

// Model is the bubbletea model of the viewer. It is also the flip engine the
// controller hands its sheets to.
type Model struct {
	ctrl  *flipbook.Controller
	src   flipbook.DocumentSource
	title string

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	jump    textinput.Model

	wheelStep     float64
	width, height int

	sheets []flipbook.Sheet
	sheet  int
	onFlip func(index int)

	panHeld  bool
	jumping  bool
	showHelp bool
	quitting bool
	notice   string

	log *zap.Logger
}

var (
	_ tea.Model               = (*Model)(nil)
	_ flipbook.SpreadRenderer = (*Model)(nil)
	_ flipbook.FlipTarget     = (*Model)(nil)
	_ flipbook.Capturer       = (*Model)(nil)
)

// New creates a viewer for src
func New(src flipbook.DocumentSource, opts Options) *Model {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	viewer := opts.Viewer
	viewer.Logger = log
	step := opts.WheelStep
	if step <= 0 {
		step = DefaultWheelStep
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	ti := textinput.New()
	ti.Prompt = "page: "
	ti.Placeholder = "1"
	ti.CharLimit = 6
	ti.Width = 8

	return &Model{
		ctrl:      flipbook.New(viewer),
		src:       src,
		title:     opts.Title,
		keys:      DefaultKeyMap,
		help:      help.New(),
		spinner:   s,
		jump:      ti,
		wheelStep: step,
		log:       log.Named("tui"),
	}
}

// Controller exposes the controller driven by this model
func (m *Model) Controller() *flipbook.Controller { return m.ctrl }

// Sheet returns the sheet currently shown
func (m *Model) Sheet() int { return m.sheet }

// Init starts the spinner and the document load
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load)
}

func (m *Model) load() tea.Msg {
	n, err := document.Load(context.Background(), m.src)
	if err != nil {
		return loadFailedMsg{err: err}
	}
	return loadedMsg{pages: n}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ctrl.ViewportResized(float64(msg.Width*CellWidth), float64(msg.Height*CellHeight))
		return m, nil

	case loadedMsg:
		if err := m.ctrl.DocumentLoaded(msg.pages, m); err != nil {
			m.log.Warn("display failed", zap.Error(err))
		}
		return m, nil

	case loadFailedMsg:
		m.ctrl.DocumentFailed(msg.err)
		return m, nil

	case spinner.TickMsg:
		if m.ctrl.State().Status != flipbook.StatusLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func cellToPixel(x, y int) (float64, float64) {
	return float64(x*CellWidth + CellWidth/2), float64(y*CellHeight + CellHeight/2)
}

// buttonIndex maps terminal buttons to pointer button numbers (0 = primary)
func buttonIndex(b tea.MouseButton) int {
	switch b {
	case tea.MouseButtonLeft:
		return 0
	case tea.MouseButtonMiddle:
		return 1
	case tea.MouseButtonRight:
		return 2
	default:
		return -1
	}
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	x, y := cellToPixel(msg.X, msg.Y)
	m.ctrl.PointerPosition(x, y)

	ev := flipbook.PointerEvent{
		ID:      mousePointer,
		X:       x,
		Y:       y,
		Primary: true,
		Kind:    flipbook.PointerMouse,
	}

	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		m.ctrl.Wheel(flipbook.WheelEvent{DeltaY: -m.wheelStep, Shift: msg.Shift})
	case msg.Button == tea.MouseButtonWheelDown:
		m.ctrl.Wheel(flipbook.WheelEvent{DeltaY: m.wheelStep, Shift: msg.Shift})
	case msg.Button == tea.MouseButtonWheelLeft:
		m.ctrl.Wheel(flipbook.WheelEvent{DeltaX: -m.wheelStep})
	case msg.Button == tea.MouseButtonWheelRight:
		m.ctrl.Wheel(flipbook.WheelEvent{DeltaX: m.wheelStep})

	case msg.Action == tea.MouseActionPress:
		ev.Button = buttonIndex(msg.Button)
		if m.ctrl.PointerDown(ev, m) {
			return
		}
		if ev.Button == 0 {
			m.clickFlip(x)
		}
	case msg.Action == tea.MouseActionMotion:
		m.ctrl.PointerMove(ev)
	case msg.Action == tea.MouseActionRelease:
		m.ctrl.PointerUp(ev, m)
	}
}

// clickFlip turns back when the left face is clicked and forward on the
// right face. Clicks outside the spread do nothing.
func (m *Model) clickFlip(x float64) {
	if len(m.sheets) == 0 {
		return
	}
	t := m.ctrl.Transform()
	content := m.ctrl.ContentSize()
	cx := (x - t.X) / t.Scale
	switch {
	case cx < 0 || cx >= content.W:
	case cx < content.W/2:
		m.turnTo(m.sheet - 1)
	default:
		m.turnTo(m.sheet + 1)
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.jumping {
		return m.handleJumpKey(msg)
	}
	m.notice = ""

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
	case key.Matches(msg, m.keys.ZoomIn):
		m.ctrl.ZoomIn()
	case key.Matches(msg, m.keys.ZoomOut):
		m.ctrl.ZoomOut()
	case key.Matches(msg, m.keys.Reset):
		m.ctrl.Reset()
	case key.Matches(msg, m.keys.Pan):
		// Terminals report no key release, so the pan key toggles
		panKey := m.ctrl.Options().PanKey
		if m.panHeld {
			m.ctrl.KeyUp(panKey)
		} else {
			m.ctrl.KeyDown(panKey)
		}
		m.panHeld = !m.panHeld
	case key.Matches(msg, m.keys.Prev):
		m.turnTo(m.sheet - 1)
	case key.Matches(msg, m.keys.Next):
		m.turnTo(m.sheet + 1)
	case key.Matches(msg, m.keys.First):
		m.turnTo(0)
	case key.Matches(msg, m.keys.Last):
		m.turnTo(len(m.sheets) - 1)
	case key.Matches(msg, m.keys.Jump):
		if m.ctrl.State().Status != flipbook.StatusReady {
			return nil
		}
		m.jumping = true
		m.jump.SetValue("")
		return m.jump.Focus()
	}
	return nil
}

func (m *Model) handleJumpKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.endJump()
		return nil
	case key.Matches(msg, m.keys.Enter):
		value := strings.TrimSpace(m.jump.Value())
		m.endJump()
		page, err := strconv.Atoi(value)
		if err != nil {
			m.notice = fmt.Sprintf("not a page number: %q", value)
			return nil
		}
		if err := m.ctrl.JumpTo(page, m); err != nil {
			m.notice = err.Error()
		}
		return nil
	}
	var cmd tea.Cmd
	m.jump, cmd = m.jump.Update(msg)
	return cmd
}

func (m *Model) endJump() {
	m.jumping = false
	m.jump.Blur()
}

// turnTo shows sheet s and reports the flip with the first page on it
func (m *Model) turnTo(s int) {
	if len(m.sheets) == 0 {
		return
	}
	s = clampInt(s, 0, len(m.sheets)-1)
	if s == m.sheet {
		return
	}
	m.sheet = s
	if m.onFlip == nil {
		return
	}
	sh := m.sheets[s]
	page := sh.Left
	if page == flipbook.Blank {
		page = sh.Right
	}
	m.onFlip(page - 1)
}

// Display receives the sheets to show. The current page's sheet is kept
// across reloads.
func (m *Model) Display(sheets []flipbook.Sheet, onFlip func(index int)) error {
	m.sheets = sheets
	m.onFlip = onFlip
	if len(sheets) > 0 {
		m.sheet = clampInt(flipbook.SheetOf(m.ctrl.CurrentPage()), 0, len(sheets)-1)
	}
	m.log.Debug("sheets displayed", zap.Int("sheets", len(sheets)), zap.Int("sheet", m.sheet))
	return nil
}

// FlipTo shows a sheet without reporting a flip
func (m *Model) FlipTo(sheet int) error {
	if sheet < 0 || sheet >= len(m.sheets) {
		return fmt.Errorf("%w: sheet %d", flipbook.ErrPageOutOfRange, sheet)
	}
	m.sheet = sheet
	return nil
}

// SetPointerCapture is a no-op: terminal mouse tracking already reports
// every motion event.
func (m *Model) SetPointerCapture(int) error { return nil }

// ReleasePointerCapture is a no-op
func (m *Model) ReleasePointerCapture(int) error { return nil }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
