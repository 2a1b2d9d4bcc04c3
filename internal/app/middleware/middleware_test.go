package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"chatline/internal/app/commands"
	appoutbox "chatline/internal/app/outbox"
	"chatline/internal/app/queries"
	"chatline/internal/domain/shared/errkind"
)

type sendCmd struct {
	Actor string `validate:"required"`
	Text  string `validate:"required,max=10"`
	IdKey string
}

func (c sendCmd) Key() string            { return "test.send" }
func (c sendCmd) ActorID() string        { return c.Actor }
func (c sendCmd) IdempotencyKey() string { return c.IdKey }
func (c sendCmd) ResultPrototype() any   { return &sendResult{} }

type sendResult struct {
	N int `json:"n"`
}

type listQuery struct {
	Actor string `validate:"required"`
	Limit int    `validate:"min=0"`
}

func (q listQuery) Key() string     { return "test.list" }
func (q listQuery) ActorID() string { return q.Actor }

type mapStore struct {
	mu    sync.Mutex
	items map[string]IdempotencyRecord
}

func (s *mapStore) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *mapStore) Save(_ context.Context, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[string]IdempotencyRecord)
	}
	s.items[rec.Key] = rec
	return nil
}

func countingBus(t *testing.T, calls *int, fail error) *commands.InMemoryBus {
	t.Helper()
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, "test.send", commands.HandlerFunc[sendCmd, *sendResult](func(context.Context, sendCmd) (*sendResult, error) {
		*calls++
		if fail != nil {
			return nil, fail
		}
		return &sendResult{N: *calls}, nil
	}))
	return bus
}

func TestIdempotencyReplaysResult(t *testing.T) {
	calls := 0
	bus := ChainCommands(countingBus(t, &calls, nil), Idempotency(&mapStore{}, nil, 0))
	ctx := context.Background()

	first, err := commands.Dispatch[sendCmd, *sendResult](ctx, bus, sendCmd{Actor: "u1", Text: "hi", IdKey: "k1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := commands.Dispatch[sendCmd, *sendResult](ctx, bus, sendCmd{Actor: "u1", Text: "hi", IdKey: "k1"})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || first.N != second.N {
		t.Fatalf("calls = %d, first = %d, second = %d", calls, first.N, second.N)
	}

	if _, err := commands.Dispatch[sendCmd, *sendResult](ctx, bus, sendCmd{Actor: "u2", Text: "hi", IdKey: "k1"}); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("keys must be scoped per actor, calls = %d", calls)
	}
	if _, err := commands.Dispatch[sendCmd, *sendResult](ctx, bus, sendCmd{Actor: "u1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("commands without a key always run, calls = %d", calls)
	}
}

func TestIdempotencyReplaysClassifiedErrors(t *testing.T) {
	calls := 0
	forbidden := errkind.New(errkind.ErrForbidden, "nope")
	bus := ChainCommands(countingBus(t, &calls, forbidden), Idempotency(&mapStore{}, nil, 0))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := bus.Dispatch(ctx, sendCmd{Actor: "u1", Text: "hi", IdKey: "k"})
		if !errors.Is(err, errkind.ErrForbidden) {
			t.Fatalf("attempt %d err = %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestIdempotencyRetriesInternalErrors(t *testing.T) {
	calls := 0
	bus := ChainCommands(countingBus(t, &calls, errors.New("db down")), Idempotency(&mapStore{}, nil, 0))
	for i := 0; i < 2; i++ {
		if _, err := bus.Dispatch(context.Background(), sendCmd{Actor: "u1", Text: "hi", IdKey: "k"}); err == nil {
			t.Fatal("expected error")
		}
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRequireActorAndValidation(t *testing.T) {
	calls := 0
	bus := ChainCommands(countingBus(t, &calls, nil), RequireActor(), Validation(NewStructValidator()))
	ctx := context.Background()

	if _, err := bus.Dispatch(ctx, sendCmd{Text: "hi"}); !errors.Is(err, errkind.ErrUnauthenticated) {
		t.Fatalf("missing actor err = %v", err)
	}
	_, err := bus.Dispatch(ctx, sendCmd{Actor: "u1", Text: strings.Repeat("x", 11)})
	if !errors.Is(err, errkind.ErrValidation) {
		t.Fatalf("too long err = %v", err)
	}
	if !strings.Contains(err.Error(), "text must be at most 10") {
		t.Fatalf("message = %q", err.Error())
	}
	if calls != 0 {
		t.Fatalf("handler ran %d times", calls)
	}
}

func TestQueryMiddleware(t *testing.T) {
	bus := queries.NewInMemoryBus()
	queries.RegisterHandler(bus, "test.list", queries.HandlerFunc[listQuery, int](func(_ context.Context, q listQuery) (int, error) {
		return q.Limit, nil
	}))
	chained := ChainQueries(bus, QueryRequireActor(), QueryValidation(NewStructValidator()))
	ctx := context.Background()

	if _, err := chained.Ask(ctx, listQuery{}); !errors.Is(err, errkind.ErrUnauthenticated) {
		t.Fatalf("missing actor err = %v", err)
	}
	if _, err := chained.Ask(ctx, listQuery{Actor: "u1", Limit: -1}); !errors.Is(err, errkind.ErrValidation) {
		t.Fatalf("negative limit err = %v", err)
	}
	got, err := queries.Ask[listQuery, int](ctx, chained, listQuery{Actor: "u1", Limit: 5})
	if err != nil || got != 5 {
		t.Fatalf("Ask = %d, %v", got, err)
	}
}

type flushRecorder struct {
	flushes int
}

func (f *flushRecorder) Add(context.Context, appoutbox.EventRecord) error { return nil }

func (f *flushRecorder) Flush(context.Context) error {
	f.flushes++
	return nil
}

func TestOutboxFlushOnlyOnSuccess(t *testing.T) {
	box := &flushRecorder{}
	calls := 0
	ok := ChainCommands(countingBus(t, &calls, nil), OutboxFlush(box, nil))
	if _, err := ok.Dispatch(context.Background(), sendCmd{Actor: "u1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	failing := ChainCommands(countingBus(t, &calls, errors.New("boom")), OutboxFlush(box, nil))
	if _, err := failing.Dispatch(context.Background(), sendCmd{Actor: "u1", Text: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if box.flushes != 1 {
		t.Fatalf("flushes = %d", box.flushes)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) CommandMiddleware {
		return func(next commands.Bus) commands.Bus {
			return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
				order = append(order, name)
				return next.Dispatch(ctx, cmd)
			})
		}
	}
	calls := 0
	bus := ChainCommands(countingBus(t, &calls, nil), tag("outer"), nil, tag("inner"))
	if _, err := bus.Dispatch(context.Background(), sendCmd{Actor: "u1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Fatalf("order = %v", order)
	}
}
