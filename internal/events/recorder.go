// Package events carries the core's event stream: an explicit bus with
// subscriber lifecycle instead of a process-global listener registry, plus
// a bounded ring the control API serves recent events from.
package events

import "github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}
