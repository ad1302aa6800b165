package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabsync/internal/types"
)

// DetailModel shows information about the selected row.
type DetailModel struct {
	Width      int
	Height     int
	Scroll     int // scroll offset
	ContentLen int // total lines in content
}

// ScrollUp adjusts the scroll offset upward.
func (m *DetailModel) ScrollUp() {
	if m.Scroll > 0 {
		m.Scroll--
	}
}

// ScrollDown adjusts the scroll offset downward.
func (m *DetailModel) ScrollDown() {
	if m.Scroll < m.ContentLen-m.Height {
		m.Scroll++
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}
}

// ResetScroll resets the scroll offset to 0.
func (m *DetailModel) ResetScroll() {
	m.Scroll = 0
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle()
)

func (m DetailModel) field(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label) + "\n")
	width := m.Width - 2
	if width < 10 {
		width = 10
	}
	// Wrap long values such as URLs.
	for len(value) > width {
		b.WriteString(valueStyle.Render(value[:width]) + "\n")
		value = value[width:]
	}
	b.WriteString(valueStyle.Render(value) + "\n\n")
}

// ViewTab renders a tab. spaceName is empty for personal tabs; frame is
// the materialization state.
func (m DetailModel) ViewTab(tab *types.Tab, spaceName, frame string, now time.Time) string {
	if tab == nil {
		return ""
	}

	var b strings.Builder

	title := tab.Title
	if title == "" {
		title = "(untitled)"
	}
	if tab.TitleFixed() {
		title += " " + fixedStyle.Render("✎ renamed")
	}
	m.field(&b, "Title", title)
	m.field(&b, "URL", tab.URL)

	if spaceName == "" {
		spaceName = "Personal"
	}
	if tab.Overflowed {
		spaceName += " · More"
	}
	m.field(&b, "Space", spaceName)

	if !tab.LastAccessed.IsZero() {
		m.field(&b, "Last Visited", ago(now.Sub(tab.LastAccessed)))
	}

	var statuses []string
	if tab.Active {
		statuses = append(statuses, activeStyle.Render("Active"))
	}
	if rid, ok := tab.ID.Remote(); ok {
		statuses = append(statuses, dimStyle.Render("Saved as "+string(rid)))
	} else {
		statuses = append(statuses, pendingStyle.Render("Saving..."))
	}
	statuses = append(statuses, dimStyle.Render("Frame: "+frame))

	b.WriteString(labelStyle.Render("Status") + "\n")
	for _, s := range statuses {
		b.WriteString(s + "\n")
	}
	return b.String()
}

// ViewSpace renders a space header.
func (m DetailModel) ViewSpace(space *types.Space, tabs int) string {
	if space == nil {
		return ""
	}

	var b strings.Builder
	m.field(&b, "Space", space.Name)

	kind := "Project"
	if space.Kind == types.SpaceDM {
		kind = "Direct message"
	}
	m.field(&b, "Kind", kind)
	m.field(&b, "Tabs", fmt.Sprintf("%d", tabs))

	state := "expanded"
	if !space.IsExpanded {
		state = "collapsed"
	}
	m.field(&b, "State", state)
	return b.String()
}

// ViewSection renders the Personal and More headers.
func (m DetailModel) ViewSection(name string, tabs int) string {
	var b strings.Builder
	m.field(&b, "Section", name)
	m.field(&b, "Tabs", fmt.Sprintf("%d", tabs))
	return b.String()
}

// ViewScrolled applies scroll offset and height truncation to the content string.
func (m *DetailModel) ViewScrolled(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	m.ContentLen = len(lines)

	maxScroll := m.ContentLen - m.Height
	if maxScroll < 0 {
		maxScroll = 0
	}
	if m.Scroll > maxScroll {
		m.Scroll = maxScroll
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}

	end := m.Scroll + m.Height
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[m.Scroll:end], "\n")
}

func ago(d time.Duration) string {
	days := int(d.Hours() / 24)
	switch {
	case days > 0:
		return fmt.Sprintf("%d days ago", days)
	case int(d.Hours()) > 0:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case int(d.Minutes()) > 0:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	}
	return "just now"
}
