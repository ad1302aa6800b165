package drag

import (
	"math"

	"github.com/lotas/tabsync/internal/types"
)

// DefaultThreshold is the pointer travel, in pixels, that turns a press
// into a drag.
const DefaultThreshold = 5.0

// Axis is the primary axis of a list.
type Axis int

const (
	Vertical   Axis = iota // sidebar lists
	Horizontal             // top-bar lists
)

type Point struct{ X, Y float64 }

type Rect struct{ X, Y, W, H float64 }

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// Position is where a dragged item lands relative to its target.
type Position int

const (
	Before Position = iota
	After
	Inside
)

func (p Position) String() string {
	switch p {
	case After:
		return "after"
	case Inside:
		return "inside"
	}
	return "before"
}

// ItemKind distinguishes draggable tabs from draggable spaces.
type ItemKind int

const (
	KindTab ItemKind = iota
	KindSpace
)

// Containers a tab list can show items in.
const (
	ContainerMain = "main"
	ContainerMore = "more" // overflow menu
)

// Item is a draggable list entry. Container names the list that shows it,
// e.g. "main" or "more".
type Item struct {
	Kind      ItemKind
	Tab       types.LocalID
	Space     string
	Container string
}

// Target is a drop target under the pointer. A Target with a zero Item is
// a bare container area. AllowInside enables the re-parenting band.
type Target struct {
	Item        Item
	Bounds      Rect
	AllowInside bool
}

func (t Target) bare() bool {
	return t.Item.Tab == 0 && t.Item.Space == ""
}

// IntentKind says how the consumer should interpret an Intent.
type IntentKind int

const (
	IntentReorder IntentKind = iota
	IntentMoveContainer
)

// Intent is the outcome of a completed drag.
type Intent struct {
	Kind     IntentKind
	Dragged  Item
	Target   Item
	Position Position
	From     string
	To       string
}

// Outcome classifies a Release.
type Outcome int

const (
	OutcomeNone      Outcome = iota // no press in progress
	OutcomeClick                    // released before the threshold
	OutcomeDrop                     // Intent is valid
	OutcomeCancelled                // released outside any valid target
)

// Visuals is notified when the dragged element's visual state changes.
// DragEnded is always called once for every DragStarted.
type Visuals interface {
	DragStarted(Item)
	DragEnded(Item)
}

// Config tunes a Controller.
type Config struct {
	Threshold float64
	Axis      Axis
}

// Controller turns pointer events into reorder intents.
type Controller struct {
	cfg      Config
	visuals  Visuals
	pressed  bool
	dragging bool
	item     Item
	origin   Point
	hover    *Target
	last     Point
}

// New creates a Controller. visuals may be nil.
func New(cfg Config, visuals Visuals) *Controller {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Controller{cfg: cfg, visuals: visuals}
}

// Dragging reports whether the threshold has been crossed.
func (c *Controller) Dragging() bool { return c.dragging }

// Dragged returns the item under the pointer since Press.
func (c *Controller) Dragged() (Item, bool) { return c.item, c.pressed }

// Press starts tracking a potential drag of item at p.
func (c *Controller) Press(item Item, p Point) {
	c.reset()
	c.pressed = true
	c.item = item
	c.origin = p
	c.last = p
}

// Move updates the pointer. It reports whether a drag is in progress.
func (c *Controller) Move(p Point, hover *Target) bool {
	if !c.pressed {
		return false
	}
	c.last = p
	c.hover = hover
	if !c.dragging && c.travelled(p) {
		c.begin()
	}
	return c.dragging
}

// Preview returns the current hover target and insertion position so a
// renderer can draw a drop indicator.
func (c *Controller) Preview() (Target, Position, bool) {
	if !c.dragging || c.hover == nil || c.hover.bare() {
		return Target{}, Before, false
	}
	return *c.hover, ComputePosition(c.hover.Bounds, c.last, c.cfg.Axis, c.hover.AllowInside), true
}

// Release ends the gesture at p over hover (nil when outside every target).
func (c *Controller) Release(p Point, hover *Target) (Intent, Outcome) {
	if !c.pressed {
		return Intent{}, OutcomeNone
	}
	defer c.reset()

	if !c.dragging {
		if !c.travelled(p) {
			return Intent{}, OutcomeClick
		}
		c.begin()
	}
	if hover == nil || hover.Item == c.item {
		return Intent{}, OutcomeCancelled
	}

	from := c.item.Container
	to := hover.Item.Container
	if from != to {
		return Intent{
			Kind:    IntentMoveContainer,
			Dragged: c.item,
			Target:  hover.Item,
			From:    from,
			To:      to,
		}, OutcomeDrop
	}
	if hover.bare() {
		return Intent{}, OutcomeCancelled
	}
	return Intent{
		Kind:     IntentReorder,
		Dragged:  c.item,
		Target:   hover.Item,
		Position: ComputePosition(hover.Bounds, p, c.cfg.Axis, hover.AllowInside),
		From:     from,
		To:       to,
	}, OutcomeDrop
}

// Cancel aborts the gesture without an intent, e.g. when the window loses
// focus mid-drag.
func (c *Controller) Cancel() {
	c.reset()
}

func (c *Controller) travelled(p Point) bool {
	return math.Hypot(p.X-c.origin.X, p.Y-c.origin.Y) > c.cfg.Threshold
}

func (c *Controller) begin() {
	c.dragging = true
	if c.visuals != nil {
		c.visuals.DragStarted(c.item)
	}
}

func (c *Controller) reset() {
	if c.dragging && c.visuals != nil {
		c.visuals.DragEnded(c.item)
	}
	c.pressed = false
	c.dragging = false
	c.item = Item{}
	c.hover = nil
}

// ComputePosition maps the pointer's fractional offset inside bounds along
// axis to an insertion position. Without nesting the split is at 50%; with
// nesting the middle third means Inside.
func ComputePosition(bounds Rect, p Point, axis Axis, allowInside bool) Position {
	var frac float64
	switch axis {
	case Horizontal:
		if bounds.W <= 0 {
			return Before
		}
		frac = (p.X - bounds.X) / bounds.W
	default:
		if bounds.H <= 0 {
			return Before
		}
		frac = (p.Y - bounds.Y) / bounds.H
	}

	if allowInside {
		switch {
		case frac < 1.0/3:
			return Before
		case frac > 2.0/3:
			return After
		default:
			return Inside
		}
	}
	if frac > 0.5 {
		return After
	}
	return Before
}
