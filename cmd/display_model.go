package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/newhook/nextpick/internal/pick"
	"github.com/newhook/nextpick/internal/poller"
)

const (
	pulseDuration = 900 * time.Millisecond
	bumpDuration  = 600 * time.Millisecond
	toastDuration = 3 * time.Second
	maxToasts     = 3
	fxInterval    = 100 * time.Millisecond
)

// snapshotSource is what the display needs from the poller.
type snapshotSource interface {
	Latest() poller.Snapshot
	Updates() <-chan poller.Snapshot
	Kick()
}

// snapshotMsg carries a published poll snapshot
type snapshotMsg poller.Snapshot

// fxTickMsg expires toasts and effects
type fxTickMsg time.Time

type toast struct {
	kind    pick.EventKind
	text    string
	expires time.Time
}

// batchFX remembers what was on screen for one batch so location and count
// changes can be highlighted briefly.
type batchFX struct {
	location   string
	sku        string
	picked     int
	pulseUntil time.Time
	bumpUntil  time.Time
}

// displayModel is the bubbletea model of the next-pick display
type displayModel struct {
	src     snapshotSource
	nowFunc func() time.Time

	width  int
	height int

	snap   poller.Snapshot
	loaded bool

	toasts []toast
	fx     map[string]*batchFX
	fxLive bool

	spinner spinner.Model
	bar     progress.Model
}

func newDisplayModel(src snapshotSource) *displayModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	m := &displayModel{
		src:     src,
		nowFunc: time.Now,
		width:   80,
		height:  24,
		fx:      make(map[string]*batchFX),
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
	if snap := src.Latest(); snap.Seq > 0 {
		m.snap = snap
		m.loaded = true
	}
	return m
}

// Init implements tea.Model
func (m *displayModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForSnapshot())
}

func (m *displayModel) waitForSnapshot() tea.Cmd {
	updates := m.src.Updates()
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func fxTick() tea.Cmd {
	return tea.Tick(fxInterval, func(t time.Time) tea.Msg {
		return fxTickMsg(t)
	})
}

// Update implements tea.Model
func (m *displayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r", " ":
			m.src.Kick()
		}

	case tea.FocusMsg:
		// Someone is looking at the screen again; poll right away.
		m.src.Kick()

	case snapshotMsg:
		m.apply(poller.Snapshot(msg))
		cmds = append(cmds, m.waitForSnapshot())
		if m.hasFX() && !m.fxLive {
			m.fxLive = true
			cmds = append(cmds, fxTick())
		}

	case fxTickMsg:
		m.expire()
		if m.hasFX() {
			cmds = append(cmds, fxTick())
		} else {
			m.fxLive = false
		}

	case spinner.TickMsg:
		if m.loaded {
			// The spinner is only shown while loading.
			break
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// apply takes a new snapshot and derives the toasts and effects it causes.
func (m *displayModel) apply(s poller.Snapshot) {
	now := m.nowFunc()
	m.snap = s
	m.loaded = true

	for _, e := range s.Events {
		m.toasts = append(m.toasts, toast{kind: e.Kind, text: toastText(e), expires: now.Add(toastDuration)})
	}
	if n := len(m.toasts); n > maxToasts {
		m.toasts = m.toasts[n-maxToasts:]
	}

	seen := make(map[string]bool, len(s.Models))
	for _, model := range s.Models {
		seen[model.BatchID] = true
		if model.Current == nil {
			continue
		}
		cur := model.Current
		fx, ok := m.fx[model.BatchID]
		if !ok {
			m.fx[model.BatchID] = &batchFX{location: cur.Location, sku: cur.SKU, picked: cur.QtyPicked}
			continue
		}
		if cur.Location != fx.location {
			fx.pulseUntil = now.Add(pulseDuration)
		}
		if cur.SKU == fx.sku && cur.QtyPicked > fx.picked {
			fx.bumpUntil = now.Add(bumpDuration)
		}
		fx.location, fx.sku, fx.picked = cur.Location, cur.SKU, cur.QtyPicked
	}
	for id := range m.fx {
		if !seen[id] {
			delete(m.fx, id)
		}
	}
}

func (m *displayModel) expire() {
	now := m.nowFunc()
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if now.Before(t.expires) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
}

func (m *displayModel) hasFX() bool {
	if len(m.toasts) > 0 {
		return true
	}
	now := m.nowFunc()
	for _, fx := range m.fx {
		if now.Before(fx.pulseUntil) || now.Before(fx.bumpUntil) {
			return true
		}
	}
	return false
}

func (m *displayModel) pulsing(batchID string) bool {
	fx, ok := m.fx[batchID]
	return ok && m.nowFunc().Before(fx.pulseUntil)
}

func (m *displayModel) bumping(batchID string) bool {
	fx, ok := m.fx[batchID]
	return ok && m.nowFunc().Before(fx.bumpUntil)
}

func toastText(e pick.Event) string {
	switch e.Kind {
	case pick.EventActivated:
		return fmt.Sprintf("Batch %s started", e.BatchID)
	case pick.EventPicklistCompleted:
		if e.PicklistID != "" {
			return fmt.Sprintf("Picklist %s done, next picklist", e.PicklistID)
		}
		return "Picklist done, next picklist"
	case pick.EventBatchCompleted:
		return fmt.Sprintf("Batch %s complete", e.BatchID)
	case pick.EventBecameEmpty:
		return "All batches done"
	default:
		return string(e.Kind)
	}
}
