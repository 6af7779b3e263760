package event

import (
	"time"

	"github.com/bryanchriswhite/windowobserver/internal/window"
)

// Record is a Result rendered for output: the window is described at the time
// the record is made, so it can be serialised after the handle is gone.
type Record struct {
	Time     time.Time    `json:"time" yaml:"time"`
	Kind     string       `json:"kind,omitempty" yaml:"kind,omitempty"`
	WindowID window.ID    `json:"window_id" yaml:"window_id"`
	Window   *window.Info `json:"window,omitempty" yaml:"window,omitempty"`
	Error    string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRecord describes r. Closed events carry only the window id.
func NewRecord(r Result) Record {
	rec := Record{Time: time.Now()}
	if r.Err != nil {
		rec.Error = r.Err.Error()
		return rec
	}
	rec.Kind = r.Payload.Event.Kind.String()
	rec.WindowID = r.Payload.Event.WindowID
	if r.Payload.Available() {
		info := window.Describe(r.Payload.Window)
		rec.WindowID = info.ID
		rec.Window = &info
	}
	return rec
}
