package tui

import "github.com/lotas/tabsync/internal/drag"

// DragThreshold is the pointer travel, in cells, that turns a click into
// a drag in the terminal.
const DragThreshold = 0.5

// pressPoint maps a click on row idx, column x to list coordinates. Each
// row is one unit high.
func pressPoint(idx, x int) drag.Point {
	return drag.Point{X: float64(x), Y: float64(idx) + 0.5}
}

// hoverAt maps the pointer over row idx to a drop target and a point in
// list coordinates. Terminal rows have no sub-row resolution, so the
// direction of travel picks the half: moving up means before, moving down
// means after. Space headers take drops inside; section headers are bare
// container areas.
func hoverAt(n TreeNode, idx, pressIdx, x int) (*drag.Target, drag.Point) {
	bounds := drag.Rect{X: 0, Y: float64(idx), W: 1 << 16, H: 1}
	target := &drag.Target{Item: n.Item(), Bounds: bounds}

	frac := 0.5
	switch {
	case n.Kind == NodeSpace:
		target.AllowInside = true
	case idx < pressIdx:
		frac = 0.25
	case idx > pressIdx:
		frac = 0.75
	}
	return target, drag.Point{X: float64(x), Y: float64(idx) + frac}
}
