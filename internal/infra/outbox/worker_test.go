package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	appoutbox "chatline/internal/app/outbox"
	"chatline/internal/infra/storage/memory"
)

type publishCall struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	calls []publishCall
	fail  error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.calls = append(p.calls, publishCall{topic: topic, key: key, payload: payload, headers: headers})
	return p.fail
}

func seeded(t *testing.T) *memory.Outbox {
	t.Helper()
	box := memory.NewOutbox()
	ctx := context.Background()
	err := box.Add(ctx, appoutbox.EventRecord{
		ID:         "evt-1",
		Name:       "message.sent",
		Payload:    []byte(`{"messageId":"m1"}`),
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Aggregate:  "c1",
		Headers:    map[string]string{"traceparent": "00-abc-def-01"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := box.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	return box
}

func TestProcessOncePublishesCloudEvent(t *testing.T) {
	box := seeded(t)
	producer := &fakeProducer{}
	w := &Worker{Queue: box, Producer: producer, TopicPrefix: "chat.", ID: "w1"}

	done, err := w.ProcessOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("ProcessOnce = %v, %v", done, err)
	}
	if len(producer.calls) != 1 {
		t.Fatalf("publishes = %d", len(producer.calls))
	}
	call := producer.calls[0]
	if call.topic != "chat.message.events.v1" || call.key != "c1" {
		t.Fatalf("topic = %q key = %q", call.topic, call.key)
	}
	if call.headers["content-type"] != "application/cloudevents+json" || call.headers["traceparent"] != "00-abc-def-01" {
		t.Fatalf("headers = %v", call.headers)
	}
	var evt map[string]any
	if err := json.Unmarshal(call.payload, &evt); err != nil {
		t.Fatal(err)
	}
	if evt["type"] != "message.sent.v1" || evt["id"] != "evt-1" || evt["source"] != "app://chatline" {
		t.Fatalf("event = %v", evt)
	}
	if data, _ := evt["data"].(map[string]any); data["messageId"] != "m1" {
		t.Fatalf("data = %v", evt["data"])
	}
	if box.Len() != 0 {
		t.Fatal("sent record should leave the queue")
	}

	done, err = w.ProcessOnce(context.Background())
	if err != nil || done {
		t.Fatalf("empty queue ProcessOnce = %v, %v", done, err)
	}
}

func TestProcessOnceBacksOffOnFailure(t *testing.T) {
	box := seeded(t)
	producer := &fakeProducer{fail: errors.New("broker down")}
	w := &Worker{Queue: box, Producer: producer, ID: "w1", Backoff: []time.Duration{time.Hour}}

	done, err := w.ProcessOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("ProcessOnce = %v, %v", done, err)
	}
	if box.Len() != 1 {
		t.Fatal("failed record must stay queued")
	}
	if done, _ := w.ProcessOnce(context.Background()); done {
		t.Fatal("record should wait for its backoff")
	}
}

func TestProcessOnceRetriesAfterBackoff(t *testing.T) {
	box := seeded(t)
	producer := &fakeProducer{fail: errors.New("broker down")}
	w := &Worker{Queue: box, Producer: producer, ID: "w1", Backoff: []time.Duration{0}}

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	producer.fail = nil
	done, err := w.ProcessOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("retry = %v, %v", done, err)
	}
	if len(producer.calls) != 2 || box.Len() != 0 {
		t.Fatalf("calls = %d, queued = %d", len(producer.calls), box.Len())
	}
}

func TestTopicFor(t *testing.T) {
	w := &Worker{TopicPrefix: "dev."}
	cases := map[string]string{
		"message.sent":         "dev.message.events.v1",
		"conversation.created": "dev.conversation.events.v1",
		"plain":                "dev.plain.events.v1",
	}
	for name, want := range cases {
		if got := w.topicFor(name); got != want {
			t.Errorf("topicFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestRunRequiresDependencies(t *testing.T) {
	if err := (&Worker{}).Run(context.Background()); !errors.Is(err, ErrWorkerNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	box := seeded(t)
	producer := &fakeProducer{}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{Queue: box, Producer: producer, Interval: time.Millisecond}

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for box.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if box.Len() != 0 {
		t.Fatal("relay did not drain the queue")
	}
}
