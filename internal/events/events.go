// Package events publishes job status changes to external subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gstrgate/gstrgate/internal/job"
)

// Event is one job status change.
type Event struct {
	Type string    `json:"type"` // "status" or "result"
	Job  job.Job   `json:"job"`
	At   time.Time `json:"at"`
}

// New builds the event for a snapshot; terminal snapshots are "result" events.
func New(j job.Job) Event {
	typ := "status"
	if j.Status.IsTerminal() {
		typ = "result"
	}
	return Event{Type: typ, Job: j, At: j.UpdatedAt}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// NATSPublisher sends events on core NATS subjects "<prefix>.<job_id>".
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("gstrgate"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if prefix == "" {
		prefix = "gstrgate.jobs"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject a job's events are published on.
func Subject(prefix, jobID string) string {
	return prefix + "." + jobID
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.prefix, evt.Job.ID), data)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
