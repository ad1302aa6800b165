package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabsync/internal/activation"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/drag"
	"github.com/lotas/tabsync/internal/engine"
	"github.com/lotas/tabsync/internal/eventbus"
	"github.com/lotas/tabsync/internal/reconcile"
	"github.com/lotas/tabsync/internal/registry"
	"github.com/lotas/tabsync/internal/types"
)

// Rows above the first tree row: top bar and the pane border.
const treeTop = 2

// --- Messages ---

type loadedMsg struct {
	res reconcile.LoadResult
	err error
}

type changedMsg struct{}

type navMsg eventbus.Navigation

type noticeMsg eventbus.Notice

type opDoneMsg struct {
	op  string
	err error
}

// promptKind says what a submitted prompt does.
type promptKind int

const (
	promptNone promptKind = iota
	promptNew
	promptRename
	promptGo
)

type prompt struct {
	kind  promptKind
	label string
	input string
	tab   types.LocalID
	space string
}

// --- Model ---

type Model struct {
	ctx context.Context
	eng *engine.Engine

	changes chan struct{}
	nav     <-chan eventbus.Navigation
	notices <-chan eventbus.Notice
	cleanup []func()

	tree     TreeModel
	detail   DetailModel
	drag     *drag.Controller
	pressIdx int
	hoverIdx int

	prompt  prompt
	loading bool
	err     error
	notice  string
	status  string
	width   int
	height  int
	now     func() time.Time
}

// NewModel creates the TUI over eng. Call Close when the program exits.
func NewModel(ctx context.Context, eng *engine.Engine) Model {
	m := Model{
		ctx:      ctx,
		eng:      eng,
		changes:  make(chan struct{}, 1),
		drag:     drag.New(drag.Config{Threshold: DragThreshold}, nil),
		pressIdx: -1,
		hoverIdx: -1,
		loading:  true,
		now:      time.Now,
	}
	m.tree.Frame = eng.FrameState

	changes := m.changes
	m.cleanup = append(m.cleanup, eng.Registry.Subscribe(func(registry.Change) {
		select {
		case changes <- struct{}{}:
		default:
		}
	}))
	var cancel func()
	m.nav, cancel = eng.Bus.Subscribe()
	m.cleanup = append(m.cleanup, cancel)
	m.notices, cancel = eng.Bus.SubscribeNotices()
	m.cleanup = append(m.cleanup, cancel)
	return m
}

// Close drops the model's subscriptions.
func (m Model) Close() {
	for _, fn := range m.cleanup {
		fn()
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		startEngine(m.ctx, m.eng),
		waitChange(m.changes),
		waitNav(m.nav),
		waitNotice(m.notices),
	)
}

func startEngine(ctx context.Context, eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		res, err := eng.Start(ctx)
		return loadedMsg{res: res, err: err}
	}
}

func waitChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func waitNav(ch <-chan eventbus.Navigation) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return navMsg(ev)
	}
}

func waitNotice(ch <-chan eventbus.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

// run executes an engine operation off the UI goroutine.
func run(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn()}
	}
}

func (m *Model) refresh() {
	m.tree.SetData(m.eng.Registry.List(), m.eng.Registry.Spaces())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		treeWidth := m.width * 60 / 100
		detailWidth := m.width - treeWidth - 4 // borders
		paneHeight := m.height - 4             // top bar + bottom bar + borders
		m.tree.Width = treeWidth
		m.tree.Height = paneHeight
		m.detail.Width = detailWidth
		m.detail.Height = paneHeight
		return m, nil

	case loadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.status = fmt.Sprintf("loaded %d tabs", msg.res.Loaded)
			if msg.res.NeedsRepair {
				m.notice = "Tab positions are inconsistent; run `tabsync repair`."
			}
		}
		m.refresh()
		return m, nil

	case changedMsg:
		m.refresh()
		return m, waitChange(m.changes)

	case navMsg:
		title := msg.Title
		if title == "" {
			title = msg.URL
		}
		m.status = "→ " + title
		return m, waitNav(m.nav)

	case noticeMsg:
		m.notice = msg.Message
		return m, waitNotice(m.notices)

	case opDoneMsg:
		if msg.err != nil {
			applog.Error("tui."+msg.op, msg.err)
			m.notice = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		}
		m.refresh()
		return m, nil

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.KeyMsg:
		if m.prompt.kind != promptNone {
			return m.handlePrompt(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx, eng := m.ctx, m.eng

	switch msg.String() {
	case "q", "ctrl+c":
		m.drag.Cancel()
		return m, tea.Quit
	case "esc":
		m.notice = ""
		return m, nil
	case "up", "k":
		m.tree.MoveUp()
		m.detail.ResetScroll()
		return m, nil
	case "down", "j":
		m.tree.MoveDown()
		m.detail.ResetScroll()
		return m, nil
	case "pgup":
		m.detail.ScrollUp()
		return m, nil
	case "pgdown":
		m.detail.ScrollDown()
		return m, nil
	case "R":
		m.status = "reloading..."
		return m, func() tea.Msg {
			res, err := eng.Reconciler.Load(ctx)
			return loadedMsg{res: res, err: err}
		}
	case "n":
		m.prompt = prompt{kind: promptNew, label: "Open URL", space: m.selectedScope()}
		return m, nil
	}

	node := m.tree.SelectedNode()
	if node == nil {
		return m, nil
	}

	if node.Kind == NodeSpace {
		space := *node.Space
		switch msg.String() {
		case "enter", " ", "e":
			expand := !space.IsExpanded
			return m, run("expand", func() error {
				return eng.Reconciler.SetExpanded(ctx, space.ID, expand)
			})
		case "<":
			parent, ok := eng.Registry.Space(space.ParentID)
			if !ok {
				return m, nil
			}
			return m, run("move space", func() error {
				return eng.Reconciler.Reparent(ctx, space.ID, parent.ParentID)
			})
		}
		return m, nil
	}
	if node.Kind != NodeTab {
		return m, nil
	}

	tab := *node.Tab
	id := tab.ID.Local()
	switch msg.String() {
	case "enter":
		return m, run("activate", func() error {
			return eng.Activation.Activate(ctx, id, activation.Options{})
		})
	case "x", "d":
		return m, run("close", func() error {
			return eng.CloseTab(ctx, id)
		})
	case "r":
		m.prompt = prompt{kind: promptRename, label: "Rename", input: tab.Title, tab: id}
	case "g":
		m.prompt = prompt{kind: promptGo, label: "Go to", input: tab.URL, tab: id}
	case "m":
		overflow := !tab.Overflowed
		return m, run("move", func() error {
			return eng.Reconciler.SetOverflowed(ctx, id, overflow)
		})
	case "K", "J":
		idx := scopeIndex(eng.Registry.Scope(tab.SpaceID), id)
		if msg.String() == "K" {
			idx--
		} else {
			idx++
		}
		if idx < 0 {
			return m, nil
		}
		return m, run("reorder", func() error {
			return eng.Reconciler.Reorder(ctx, id, idx)
		})
	}
	return m, nil
}

func scopeIndex(scope []types.Tab, id types.LocalID) int {
	for i, t := range scope {
		if t.ID.Local() == id {
			return i
		}
	}
	return -1
}

// selectedScope is the space new tabs open in: the selected space, or the
// space of the selected tab.
func (m Model) selectedScope() string {
	node := m.tree.SelectedNode()
	switch {
	case node == nil:
		return ""
	case node.Kind == NodeSpace:
		return node.Space.ID
	case node.Kind == NodeTab:
		return node.Tab.SpaceID
	}
	return ""
}

func (m Model) handlePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.prompt = prompt{}
		return m, nil
	case tea.KeyBackspace:
		if r := []rune(m.prompt.input); len(r) > 0 {
			m.prompt.input = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeySpace:
		m.prompt.input += " "
		return m, nil
	case tea.KeyRunes:
		m.prompt.input += string(msg.Runes)
		return m, nil
	case tea.KeyEnter:
		p := m.prompt
		m.prompt = prompt{}
		return m, m.submit(p)
	}
	return m, nil
}

func (m Model) submit(p prompt) tea.Cmd {
	ctx, eng := m.ctx, m.eng
	input := strings.TrimSpace(p.input)
	switch p.kind {
	case promptNew:
		if input == "" {
			input = types.EmptyURL
		}
		return run("new tab", func() error {
			_, err := eng.NewTab(ctx, input, "", p.space)
			return err
		})
	case promptRename:
		return run("rename", func() error {
			_, err := eng.Reconciler.Rename(ctx, p.tab, input)
			return err
		})
	case promptGo:
		if input == "" {
			return nil
		}
		return run("navigate", func() error {
			return eng.Activation.Navigate(ctx, p.tab, input)
		})
	}
	return nil
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	row := msg.Y - treeTop
	x := msg.X - 1
	node, idx, onTree := m.tree.NodeAt(row)
	if x < 0 || x >= m.tree.Width {
		onTree = false
	}

	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonLeft:
			if !onTree {
				return m, nil
			}
			m.tree.Select(idx)
			m.detail.ResetScroll()
			if node.Kind == NodeTab || node.Kind == NodeSpace {
				m.pressIdx = idx
				m.drag.Press(node.Item(), pressPoint(idx, x))
			}
		case tea.MouseButtonWheelUp:
			m.tree.MoveUp()
		case tea.MouseButtonWheelDown:
			m.tree.MoveDown()
		}
		return m, nil

	case tea.MouseActionMotion:
		if m.pressIdx < 0 {
			return m, nil
		}
		if !onTree {
			m.hoverIdx = -1
			m.drag.Move(drag.Point{X: float64(x), Y: float64(m.tree.Offset + row)}, nil)
			return m, nil
		}
		target, p := hoverAt(node, idx, m.pressIdx, x)
		m.hoverIdx = idx
		m.drag.Move(p, target)
		return m, nil

	case tea.MouseActionRelease:
		if m.pressIdx < 0 {
			return m, nil
		}
		dragged, _ := m.drag.Dragged()
		var (
			target *drag.Target
			p      = drag.Point{X: float64(x), Y: float64(m.tree.Offset + row)}
		)
		if onTree {
			target, p = hoverAt(node, idx, m.pressIdx, x)
		}
		m.pressIdx, m.hoverIdx = -1, -1

		intent, outcome := m.drag.Release(p, target)
		ctx, eng := m.ctx, m.eng
		switch outcome {
		case drag.OutcomeClick:
			if dragged.Kind == drag.KindTab {
				return m, run("activate", func() error {
					return eng.Activation.Activate(ctx, dragged.Tab, activation.Options{})
				})
			}
			space, ok := eng.Registry.Space(dragged.Space)
			if !ok {
				return m, nil
			}
			return m, run("expand", func() error {
				return eng.Reconciler.SetExpanded(ctx, space.ID, !space.IsExpanded)
			})
		case drag.OutcomeDrop:
			return m, run("drop", func() error {
				return eng.Reconciler.Apply(ctx, intent)
			})
		}
		return m, nil
	}
	return m, nil
}

// marker returns the drop indicator for the drag in progress.
func (m Model) marker() *DropMarker {
	if !m.drag.Dragging() {
		return nil
	}
	dm := &DropMarker{Row: -1, Dragging: m.pressIdx}
	if _, pos, ok := m.drag.Preview(); ok {
		dm.Row = m.hoverIdx
		dm.Position = pos
		return dm
	}
	// Section headers only take drops from the other container.
	nodes := m.tree.VisibleNodes()
	if m.hoverIdx >= 0 && m.hoverIdx < len(nodes) {
		dragged, _ := m.drag.Dragged()
		if n := nodes[m.hoverIdx]; n.Container != dragged.Container {
			dm.Row = m.hoverIdx
			dm.Position = drag.Inside
		}
	}
	return dm
}

func (m Model) View() string {
	if m.loading {
		return fmt.Sprintf("\n  Loading tabs from %s...\n", m.eng.Account())
	}

	// Top bar
	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tabs := m.eng.Registry.List()
	open := len(m.eng.Materializer.Materialized())
	statsStr := fmt.Sprintf("%d tabs · %d spaces · %d open", len(tabs), len(m.eng.Registry.Spaces()), open)
	pending := 0
	for _, t := range tabs {
		if !t.ID.IsPersisted() {
			pending++
		}
	}
	if pending > 0 {
		statsStr += fmt.Sprintf(" · %d saving", pending)
	}
	topText := "tabsync " + m.eng.Account() + "  " + statsStr
	if m.err != nil {
		topText += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("offline: "+m.err.Error())
	}
	topBar := topBarStyle.Render(topText)

	// Panes
	treeBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.tree.Width).
		Height(m.tree.Height)

	detailBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.detail.Width).
		Height(m.detail.Height)

	var detailContent string
	if node := m.tree.SelectedNode(); node != nil {
		switch node.Kind {
		case NodeTab:
			var spaceName string
			if s, ok := m.eng.Registry.Space(node.Tab.SpaceID); ok {
				spaceName = s.Name
			} else if node.Tab.SpaceID != "" {
				spaceName = node.Tab.SpaceID
			}
			detailContent = m.detail.ViewTab(node.Tab, spaceName, m.eng.FrameState(node.Tab.ID.Local()), m.now())
		case NodeSpace:
			detailContent = m.detail.ViewSpace(node.Space, node.Count)
		case NodePersonal:
			detailContent = m.detail.ViewSection("Personal", node.Count)
		case NodeMore:
			detailContent = m.detail.ViewSection("More", node.Count)
		}
	}

	left := treeBorder.Render(m.tree.View(m.marker()))
	right := detailBorder.Render(m.detail.ViewScrolled(detailContent))
	panes := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	// Bottom bar
	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	var bottomText string
	switch {
	case m.prompt.kind != promptNone:
		bottomText = lipgloss.NewStyle().Bold(true).Render(m.prompt.label+": ") + m.prompt.input + "█"
		bottomText += dimStyle.Render("  enter confirm · esc cancel")
		return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, lipgloss.NewStyle().Padding(0, 1).Render(bottomText))
	case m.notice != "":
		noticeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Padding(0, 1)
		return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, noticeStyle.Render(m.notice+"  (esc dismiss)"))
	}
	bottomText = "↑↓/jk navigate · enter open · n new · x close · r rename · g go · K/J move · m more · e expand · R reload · q quit"
	if m.status != "" {
		bottomText = m.status + "  " + bottomText
	}
	bottomBar := bottomBarStyle.Render(bottomText)

	return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, bottomBar)
}
