package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabsync/internal/drag"
	"github.com/lotas/tabsync/internal/types"
)

// NodeKind says what a tree row shows.
type NodeKind int

const (
	NodePersonal NodeKind = iota // header of the personal scope
	NodeSpace                    // header of a space
	NodeMore                     // header of the overflow section
	NodeTab
)

// TreeNode represents a visible row in the tree.
type TreeNode struct {
	Kind      NodeKind
	Space     *types.Space // NodeSpace
	Tab       *types.Tab   // NodeTab
	Depth     int
	Container string
	Count     int // tabs under a header
}

// Item returns the drag item a row stands for. Headers of the personal
// scope and the overflow section are bare container areas.
func (n TreeNode) Item() drag.Item {
	switch n.Kind {
	case NodeTab:
		return drag.Item{Kind: drag.KindTab, Tab: n.Tab.ID.Local(), Container: n.Container}
	case NodeSpace:
		return drag.Item{Kind: drag.KindSpace, Space: n.Space.ID, Container: n.Container}
	}
	return drag.Item{Container: n.Container}
}

// TreeModel manages the tab list: personal tabs, the space tree and the
// "More" section of overflowed tabs.
type TreeModel struct {
	Tabs   []types.Tab
	Spaces []types.Space
	Frame  func(types.LocalID) string // materialization state, may be nil
	Cursor int
	Offset int // scroll offset
	Width  int
	Height int
}

// SetData replaces the rows while keeping the cursor on the same tab or
// space when it still exists.
func (m *TreeModel) SetData(tabs []types.Tab, spaces []types.Space) {
	keep := m.SelectedNode()
	m.Tabs = tabs
	m.Spaces = spaces
	nodes := m.VisibleNodes()
	if keep != nil {
		for i, n := range nodes {
			if sameNode(n, *keep) {
				m.Cursor = i
				break
			}
		}
	}
	if m.Cursor >= len(nodes) {
		m.Cursor = len(nodes) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	m.clampOffset()
}

func sameNode(a, b TreeNode) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case NodeTab:
		return a.Tab.ID.Local() == b.Tab.ID.Local()
	case NodeSpace:
		return a.Space.ID == b.Space.ID
	}
	return true
}

// VisibleNodes returns the flat list of currently visible rows.
func (m TreeModel) VisibleNodes() []TreeNode {
	byScope := make(map[string][]types.Tab)
	var more []types.Tab
	for _, t := range m.Tabs {
		if t.Overflowed {
			more = append(more, t)
			continue
		}
		byScope[t.SpaceID] = append(byScope[t.SpaceID], t)
	}

	var nodes []TreeNode
	tabRows := func(tabs []types.Tab, depth int, container string) {
		for i := range tabs {
			nodes = append(nodes, TreeNode{Kind: NodeTab, Tab: &tabs[i], Depth: depth, Container: container})
		}
	}

	nodes = append(nodes, TreeNode{Kind: NodePersonal, Container: drag.ContainerMain, Count: len(byScope[""])})
	tabRows(byScope[""], 1, drag.ContainerMain)

	known := make(map[string]bool, len(m.Spaces))
	children := make(map[string][]int)
	for i, s := range m.Spaces {
		known[s.ID] = true
		children[s.ParentID] = append(children[s.ParentID], i)
	}
	var walk func(idx, depth int)
	walk = func(idx, depth int) {
		s := &m.Spaces[idx]
		nodes = append(nodes, TreeNode{Kind: NodeSpace, Space: s, Depth: depth, Container: drag.ContainerMain, Count: len(byScope[s.ID])})
		if !s.IsExpanded {
			return
		}
		tabRows(byScope[s.ID], depth+1, drag.ContainerMain)
		for _, c := range children[s.ID] {
			walk(c, depth+1)
		}
	}
	for i, s := range m.Spaces {
		if s.ParentID == "" || !known[s.ParentID] {
			walk(i, 0)
		}
	}

	if len(more) > 0 {
		nodes = append(nodes, TreeNode{Kind: NodeMore, Container: drag.ContainerMore, Count: len(more)})
		tabRows(more, 1, drag.ContainerMore)
	}
	return nodes
}

// SelectedNode returns the currently selected node, or nil.
func (m TreeModel) SelectedNode() *TreeNode {
	nodes := m.VisibleNodes()
	if m.Cursor >= 0 && m.Cursor < len(nodes) {
		return &nodes[m.Cursor]
	}
	return nil
}

// NodeAt returns the node shown on screen row, counting from the top of
// the list.
func (m TreeModel) NodeAt(row int) (TreeNode, int, bool) {
	idx := m.Offset + row
	nodes := m.VisibleNodes()
	if row < 0 || idx >= len(nodes) || row >= m.rows() {
		return TreeNode{}, 0, false
	}
	return nodes[idx], idx, true
}

// Select moves the cursor to idx.
func (m *TreeModel) Select(idx int) {
	m.Cursor = idx
	m.clampOffset()
}

// MoveUp moves the cursor up.
func (m *TreeModel) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
	m.clampOffset()
}

// MoveDown moves the cursor down.
func (m *TreeModel) MoveDown() {
	if m.Cursor < len(m.VisibleNodes())-1 {
		m.Cursor++
	}
	m.clampOffset()
}

func (m TreeModel) rows() int {
	if m.Height < 1 {
		return 20
	}
	return m.Height
}

func (m *TreeModel) clampOffset() {
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if m.Cursor >= m.Offset+m.rows() {
		m.Offset = m.Cursor - m.rows() + 1
	}
	if m.Offset < 0 {
		m.Offset = 0
	}
}

var (
	cursorStyle  = lipgloss.NewStyle().Bold(true).Reverse(true)
	headerStyle  = lipgloss.NewStyle().Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	fixedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dropStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
)

// DropMarker describes where a drag preview line goes.
type DropMarker struct {
	Row      int // index into VisibleNodes
	Position drag.Position
	Dragging int // index of the dragged row, -1 if off-screen
}

// View renders the tree. marker may be nil.
func (m TreeModel) View(marker *DropMarker) string {
	nodes := m.VisibleNodes()

	end := m.Offset + m.rows()
	if end > len(nodes) {
		end = len(nodes)
	}

	var lines []string
	for i := m.Offset; i < end; i++ {
		line := m.renderNode(nodes[i])

		if marker != nil && i == marker.Dragging {
			line = dimStyle.Render(line)
		}
		if i == m.Cursor {
			for lipgloss.Width(line) < m.Width {
				line += " "
			}
			line = cursorStyle.Render(line)
		}
		if marker != nil && marker.Row == i {
			switch marker.Position {
			case drag.Before:
				line = dropStyle.Render("▔▔") + line
			case drag.After:
				line = dropStyle.Render("▁▁") + line
			case drag.Inside:
				line = dropStyle.Render("▶ ") + line
			}
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "No tabs."
	}
	return strings.Join(lines, "\n")
}

func (m TreeModel) renderNode(n TreeNode) string {
	indent := strings.Repeat("  ", n.Depth)
	switch n.Kind {
	case NodePersonal:
		return headerStyle.Render(fmt.Sprintf("Personal (%d)", n.Count))
	case NodeMore:
		return headerStyle.Render(fmt.Sprintf("More (%d)", n.Count))
	case NodeSpace:
		icon := "▶"
		if n.Space.IsExpanded {
			icon = "▼"
		}
		kind := ""
		if n.Space.Kind == types.SpaceDM {
			kind = "@"
		}
		return indent + headerStyle.Render(fmt.Sprintf("%s %s%s (%d)", icon, kind, n.Space.Name, n.Count))
	}

	tab := n.Tab
	var markers []string
	if tab.Active {
		markers = append(markers, activeStyle.Render("●"))
	} else if m.Frame != nil && m.Frame(tab.ID.Local()) != "unmaterialized" {
		markers = append(markers, dimStyle.Render("○"))
	}
	if !tab.ID.IsPersisted() {
		markers = append(markers, pendingStyle.Render("…"))
	}
	if tab.TitleFixed() {
		markers = append(markers, fixedStyle.Render("✎"))
	}
	marker := ""
	if len(markers) > 0 {
		marker = strings.Join(markers, "") + " "
	}

	title := tab.Title
	if title == "" {
		title = tab.URL
	}
	limit := m.Width - len(indent) - lipgloss.Width(marker) - 2
	if limit < 10 {
		limit = 10
	}
	if r := []rune(title); len(r) > limit {
		title = string(r[:limit-1]) + "…"
	}
	return indent + marker + title
}
