package cmd

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"github.com/newhook/nextpick/internal/pick"
)

// Zone tints, keyed by the first letter of a location.
var (
	zoneA       = lipgloss.Color("#4FC3F7")
	zoneB       = lipgloss.Color("#B39DDB")
	zoneC       = lipgloss.Color("#80CBC4")
	zoneDefault = lipgloss.Color("#FFD166")
)

var (
	displayTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205"))

	displayDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	displayLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("247"))

	displayProductStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255"))

	displayCountStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("255"))

	displayBumpStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("42"))

	displayFaultStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255")).
				Background(lipgloss.Color("160")).
				Padding(0, 1)

	displayStatusBarStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("236")).
				Padding(0, 1)

	displayHotkeyStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214"))

	toastStyles = map[pick.EventKind]lipgloss.Style{
		pick.EventActivated:         lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("75")).Padding(0, 1),
		pick.EventPicklistCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Padding(0, 1),
		pick.EventBatchCompleted:    lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("42")).Padding(0, 1).Bold(true),
		pick.EventBecameEmpty:       lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("238")).Padding(0, 1),
	}
)

// zoneColor tints a location by its zone letter (A, B, C); anything else
// gets the fallback tint.
func zoneColor(location string) lipgloss.Color {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(location))
	switch unicode.ToUpper(r) {
	case 'A':
		return zoneA
	case 'B':
		return zoneB
	case 'C':
		return zoneC
	default:
		return zoneDefault
	}
}

// View implements tea.Model
func (m *displayModel) View() string {
	if !m.loaded {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			m.spinner.View()+" Loading batches...")
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	if m.snap.Fault != nil {
		sections = append(sections, displayFaultStyle.Width(m.width).Render(
			ansi.Truncate("Display error: "+m.snap.Fault.Error(), max(1, m.width-2), "...")))
	}

	footer := m.renderFooter()
	bodyHeight := m.height - lipgloss.Height(strings.Join(sections, "\n")) - lipgloss.Height(footer)
	sections = append(sections, m.renderBody(max(1, bodyHeight)))
	sections = append(sections, footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *displayModel) renderHeader() string {
	title := displayTitleStyle.Render("nextpick")
	state := displayLabelStyle.Render(fmt.Sprintf("%s · %s poll", m.snap.Phase, m.snap.Mode))
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(state)
	if gap < 1 {
		return title
	}
	return title + strings.Repeat(" ", gap) + state
}

func (m *displayModel) renderBody(height int) string {
	if len(m.snap.Models) == 0 {
		msg := "Waiting for a new batch"
		if m.snap.Phase == pick.PhaseLoading {
			msg = "Looking for an open batch..."
		}
		return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center,
			displayDimStyle.Render(msg))
	}

	if len(m.snap.Models) == 1 {
		return m.renderPanel(m.snap.Models[0], m.width, height)
	}

	// Split mode: one column per tracked batch.
	colWidth := m.width / len(m.snap.Models)
	panels := make([]string, 0, len(m.snap.Models))
	for _, model := range m.snap.Models {
		panels = append(panels, m.renderPanel(model, colWidth, height))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, panels...)
}

func (m *displayModel) renderPanel(model pick.DisplayModel, width, height int) string {
	tint := zoneDefault
	if model.Current != nil {
		tint = zoneColor(model.Current.Location)
	}
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tint).
		Padding(0, 1).
		Width(max(1, width-2)).
		Height(max(1, height-2))
	inner := max(1, width-6)

	var b strings.Builder
	b.WriteString(ansi.Truncate(m.panelTitle(model), inner, "..."))
	b.WriteString("\n\n")

	if model.Current == nil {
		b.WriteString(displayDimStyle.Render("Nothing left to pick"))
	} else {
		cur := model.Current
		loc := lipgloss.NewStyle().Bold(true).Foreground(tint).Padding(0, 1)
		if m.pulsing(model.BatchID) {
			loc = loc.Reverse(true)
		}
		b.WriteString(loc.Render(cur.Location))
		b.WriteString("\n\n")

		name := cur.Name
		if name == "" {
			name = cur.SKU
		}
		b.WriteString(displayProductStyle.Render(truncate.StringWithTail(name, uint(inner), "...")))
		b.WriteString("\n")

		count := displayCountStyle
		if m.bumping(model.BatchID) {
			count = displayBumpStyle
		}
		line := fmt.Sprintf("%s  %s", displayLabelStyle.Render(cur.SKU),
			count.Render(fmt.Sprintf("%d / %d", cur.QtyPicked, cur.QtyOrdered)))
		b.WriteString(ansi.Truncate(line, inner, "..."))
		b.WriteString("\n\n")
	}

	bar := m.bar
	bar.Width = max(1, inner-5)
	b.WriteString(bar.ViewAs(float64(model.ProgressPercent) / 100))
	b.WriteString(fmt.Sprintf(" %3d%%", model.ProgressPercent))
	b.WriteString("\n")
	b.WriteString(displayLabelStyle.Render(fmt.Sprintf("%d of %d left", model.TotalRemaining, model.TotalOrdered)))

	if len(model.NextLocations) > 0 {
		b.WriteString("\n\n")
		b.WriteString(wordwrap.String("Next: "+strings.Join(model.NextLocations, " · "), inner))
	}
	if model.Stale {
		b.WriteString("\n\n")
		b.WriteString(displayDimStyle.Render("Reconnecting, showing last known state"))
	}
	return style.Render(b.String())
}

func (m *displayModel) panelTitle(model pick.DisplayModel) string {
	parts := []string{"Batch " + model.BatchID}
	if model.PicklistID != "" {
		parts = append(parts, "Picklist "+model.PicklistID)
	}
	for _, batch := range m.snap.Batches {
		if batch.ID == model.BatchID && batch.CreatedBy != "" {
			parts = append(parts, batch.CreatedBy)
			break
		}
	}
	return strings.Join(parts, " · ")
}

func (m *displayModel) renderFooter() string {
	var lines []string
	for _, t := range m.toasts {
		style, ok := toastStyles[t.kind]
		if !ok {
			style = toastStyles[pick.EventBecameEmpty]
		}
		lines = append(lines, style.Render(t.text))
	}

	status := displayHotkeyStyle.Render("r") + " refresh  " + displayHotkeyStyle.Render("q") + " quit"
	if n := m.snap.ListErrorStreak; n > 0 {
		status += displayDimStyle.Render(fmt.Sprintf("   upstream unreachable (%d)", n))
	}
	lines = append(lines, displayStatusBarStyle.Width(m.width).Render(status))
	return strings.Join(lines, "\n")
}
