package window

import "fmt"

// ID identifies a window within one observed process. IDs are only comparable
// between windows of the same process and are never reused within a session.
type ID uint64

// String returns the id in the hexadecimal form native tools print.
func (id ID) String() string {
	return fmt.Sprintf("0x%x", uint64(id))
}

// Rect represents window bounds in screen coordinates
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// SamePosition reports whether both rects share the top-left corner.
func (r Rect) SamePosition(o Rect) bool {
	return r.X == o.X && r.Y == o.Y
}

// SameSize reports whether both rects have equal width and height.
func (r Rect) SameSize(o Rect) bool {
	return r.Width == o.Width && r.Height == o.Height
}

// Handle is an opaque reference to one native window.
//
// Queries go to the window system and may fail once the window is gone.
// Equal compares the underlying native handle and never issues a query.
type Handle interface {
	// ID returns the process-scoped identifier without querying the window system
	ID() ID

	// Title returns the current window title
	Title() (string, error)

	// Bounds returns the current window bounds
	Bounds() (Rect, error)

	// Focused reports whether the window currently owns keyboard input
	Focused() (bool, error)

	// Equal reports whether other refers to the same native window
	Equal(other Handle) bool
}

// Same is a nil-safe Handle comparison.
func Same(a, b Handle) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// Info is a point-in-time snapshot of a window, used when a handle has to
// leave the process (JSON, YAML, logs).
type Info struct {
	ID      ID     `json:"id" yaml:"id"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Bounds  *Rect  `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Focused bool   `json:"focused" yaml:"focused"`
}

// Describe queries h for a snapshot. Attributes that cannot be read are left
// empty; describing a vanished window still yields its id.
func Describe(h Handle) Info {
	info := Info{ID: h.ID()}
	if title, err := h.Title(); err == nil {
		info.Title = title
	}
	if bounds, err := h.Bounds(); err == nil {
		info.Bounds = &bounds
	}
	if focused, err := h.Focused(); err == nil {
		info.Focused = focused
	}
	return info
}
