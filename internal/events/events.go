// Package events carries detection lifecycle events to outbound consumers.
package events

import "github.com/couchcryptid/quake-detect/internal/domain"

// Kind names an event type on the wire.
type Kind string

const (
	KindClusterCreated Kind = "cluster_created"
	KindQuakeCreated   Kind = "quake_created"
	KindQuakeUpdated   Kind = "quake_updated"
	KindQuakeRemoved   Kind = "quake_removed"
	KindQuakeArchived  Kind = "quake_archived"
)

// Event is the closed set of lifecycle events. Consumers switch on the
// concrete type.
type Event interface {
	Kind() Kind
	isEvent()
}

type ClusterCreated struct {
	Cluster domain.ClusterSnapshot `json:"cluster"`
}

type QuakeCreated struct {
	Quake domain.QuakeSnapshot `json:"quake"`
}

type QuakeUpdated struct {
	Quake    domain.QuakeSnapshot `json:"quake"`
	Previous *domain.Hypocenter   `json:"previous,omitempty"`
}

type QuakeRemoved struct {
	Quake domain.QuakeSnapshot `json:"quake"`
}

type QuakeArchived struct {
	Quake domain.QuakeSnapshot `json:"quake"`
}

func (ClusterCreated) Kind() Kind { return KindClusterCreated }
func (QuakeCreated) Kind() Kind   { return KindQuakeCreated }
func (QuakeUpdated) Kind() Kind   { return KindQuakeUpdated }
func (QuakeRemoved) Kind() Kind   { return KindQuakeRemoved }
func (QuakeArchived) Kind() Kind  { return KindQuakeArchived }

func (ClusterCreated) isEvent() {}
func (QuakeCreated) isEvent()   {}
func (QuakeUpdated) isEvent()   {}
func (QuakeRemoved) isEvent()   {}
func (QuakeArchived) isEvent()  {}

// QuakeOf returns the quake snapshot carried by an event, if any.
func QuakeOf(e Event) (domain.QuakeSnapshot, bool) {
	switch ev := e.(type) {
	case QuakeCreated:
		return ev.Quake, true
	case QuakeUpdated:
		return ev.Quake, true
	case QuakeRemoved:
		return ev.Quake, true
	case QuakeArchived:
		return ev.Quake, true
	default:
		return domain.QuakeSnapshot{}, false
	}
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(e Event)

func (f PublisherFunc) Publish(e Event) { f(e) }
