// Package events publishes domain lifecycle events.
package events

import (
	"context"
	"time"
)

const (
	ProfileImageCreated = "profile_image.created"
	ProfileImageDeleted = "profile_image.deleted"
	ProfileImageMoved   = "profile_image.moved"
	UserCreated         = "user.created"
	UserDeleted         = "user.deleted"
	MessageCreated      = "message.created"
)

type Event struct {
	Type       string    `json:"type"`
	UserID     uint      `json:"user_id"`
	ObjectID   uint      `json:"object_id"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func New(typ string, userID, objectID uint, payload any) Event {
	return Event{
		Type:       typ,
		UserID:     userID,
		ObjectID:   objectID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.Events = append(r.Events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the type of every recorded event in order.
func (r *Recorder) Types() []string {
	out := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Type)
	}
	return out
}
