package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "chatline/internal/app/outbox"
)

// Outbox buffers records until Flush and then serves them to the relay.
type Outbox struct {
	mu      sync.Mutex
	pending []appoutbox.EventRecord
	ready   []*queued
	now     func() time.Time
}

type queued struct {
	record    appoutbox.EventRecord
	attempts  int
	next      time.Time
	claimedBy string
	lastError string
}

func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, rec := range o.pending {
		o.ready = append(o.ready, &queued{record: rec, next: now})
	}
	o.pending = nil
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Claimed, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, q := range o.ready {
		if q.claimedBy != "" || q.next.After(now) {
			continue
		}
		q.claimedBy = workerID
		return &appoutbox.Claimed{EventRecord: q.record, Attempts: q.attempts}, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.ready[:0]
	for _, q := range o.ready {
		if q.record.ID != id {
			kept = append(kept, q)
		}
	}
	o.ready = kept
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, q := range o.ready {
		if q.record.ID == id {
			q.claimedBy = ""
			q.attempts++
			q.next = next
			q.lastError = errMsg
		}
	}
	return nil
}

// Len reports how many records wait for delivery.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ready)
}

var (
	_ appoutbox.Outbox = (*Outbox)(nil)
	_ appoutbox.Queue  = (*Outbox)(nil)
)
