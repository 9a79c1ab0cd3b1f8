package inventory

import (
	"fmt"
	"time"

	"github.com/PFigs/backend-client/internal/domain"
)

// Shape says which optional samples an Event carries.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeRSSOnly
	ShapeOTAPOnly
	ShapeRSSAndOTAP
)

func (s Shape) String() string {
	switch s {
	case ShapeRSSOnly:
		return "rss"
	case ShapeOTAPOnly:
		return "otap"
	case ShapeRSSAndOTAP:
		return "rss+otap"
	}
	return "empty"
}

type OTAPRange struct {
	Min int
	Max int
}

// Event is one observation of a node. OTAPRange is set only when OTAP holds
// at least one sequence.
type Event struct {
	RSS       []float64
	OTAP      []int
	OTAPRange *OTAPRange
}

func newEvent(rss []float64, otap []int) Event {
	var ev Event
	if len(rss) > 0 {
		ev.RSS = append([]float64(nil), rss...)
	}
	if len(otap) > 0 {
		ev.OTAP = append([]int(nil), otap...)
		r := OTAPRange{Min: otap[0], Max: otap[0]}
		for _, seq := range otap[1:] {
			if seq < r.Min {
				r.Min = seq
			}
			if seq > r.Max {
				r.Max = seq
			}
		}
		ev.OTAPRange = &r
	}
	return ev
}

func (e Event) Shape() Shape {
	switch {
	case len(e.RSS) > 0 && e.OTAPRange != nil:
		return ShapeRSSAndOTAP
	case len(e.RSS) > 0:
		return ShapeRSSOnly
	case e.OTAPRange != nil:
		return ShapeOTAPOnly
	}
	return ShapeEmpty
}

func (e Event) String() string {
	switch e.Shape() {
	case ShapeRSSAndOTAP:
		return fmt.Sprintf("rss=%v otap=%v min=%d max=%d", e.RSS, e.OTAP, e.OTAPRange.Min, e.OTAPRange.Max)
	case ShapeRSSOnly:
		return fmt.Sprintf("rss=%v", e.RSS)
	case ShapeOTAPOnly:
		return fmt.Sprintf("otap=%v min=%d max=%d", e.OTAP, e.OTAPRange.Min, e.OTAPRange.Max)
	}
	return "empty"
}

// NodeRecord is the history of one node within a round.
type NodeRecord struct {
	Address  domain.NodeAddress
	LastSeen time.Time
	Count    int
	Events   []Event
}

func (r *NodeRecord) latest() (Event, bool) {
	if len(r.Events) == 0 {
		return Event{}, false
	}
	return r.Events[len(r.Events)-1], true
}

func (r *NodeRecord) clone() NodeRecord {
	out := *r
	out.Events = append([]Event(nil), r.Events...)
	return out
}
