package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"chatline/internal/app/commands"
	"chatline/internal/domain/shared/errkind"
)

// IdempotentCommand is implemented by commands whose retries must not repeat
// side effects such as a duplicate message send.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	ResultPrototype() any // pointer to the handler result type
}

type IdempotencyRecord struct {
	Key        string
	Payload    []byte
	Error      string
	ErrorKind  string
	OccurredAt time.Time
	ExpiresAt  time.Time
}

// IdempotencyStore persists outcomes. Get must not return expired records.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONResultCodec) Decode(data []byte, out any) error { return json.Unmarshal(data, out) }

var errMissingPrototype = errors.New("middleware: idempotent command requires result prototype")

// Idempotency replays the stored outcome of a command whose key was seen within
// ttl. Keys are scoped by command name and actor so two users cannot collide.
func Idempotency(store IdempotencyStore, codec ResultCodec, ttl time.Duration) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok || idCmd.IdempotencyKey() == "" {
				return next.Dispatch(ctx, cmd)
			}
			key := scopedKey(idCmd)
			rec, found, err := store.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if found {
				return replay(rec, idCmd, codec)
			}
			result, err := next.Dispatch(ctx, cmd)
			now := time.Now().UTC()
			record := IdempotencyRecord{Key: key, OccurredAt: now, ExpiresAt: now.Add(ttl)}
			if err != nil {
				kind := errkind.Of(err)
				if kind == nil {
					// internal failures are retryable
					return nil, err
				}
				record.Error = err.Error()
				record.ErrorKind = kind.Error()
				if saveErr := store.Save(ctx, record); saveErr != nil {
					return nil, errors.Join(err, saveErr)
				}
				return nil, err
			}
			if result != nil {
				payload, encErr := codec.Encode(result)
				if encErr != nil {
					return nil, encErr
				}
				record.Payload = payload
			}
			if saveErr := store.Save(ctx, record); saveErr != nil {
				return nil, saveErr
			}
			return result, nil
		})
	}
}

func scopedKey(cmd IdempotentCommand) string {
	key := cmd.Key() + ":"
	if actored, ok := cmd.(commands.Actored); ok {
		key += actored.ActorID() + ":"
	}
	return key + cmd.IdempotencyKey()
}

func replay(rec IdempotencyRecord, cmd IdempotentCommand, codec ResultCodec) (any, error) {
	if rec.Error != "" {
		return nil, errkind.New(kindByName(rec.ErrorKind), rec.Error)
	}
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, errMissingPrototype
	}
	if len(rec.Payload) == 0 {
		return nil, nil
	}
	if err := codec.Decode(rec.Payload, proto); err != nil {
		return nil, err
	}
	return normalizePrototype(proto), nil
}

func kindByName(name string) error {
	for _, kind := range []error{errkind.ErrValidation, errkind.ErrForbidden, errkind.ErrNotFound, errkind.ErrUnauthenticated, errkind.ErrConflict} {
		if kind.Error() == name {
			return kind
		}
	}
	return errkind.ErrValidation
}

func normalizePrototype(proto any) any {
	rv := reflect.ValueOf(proto)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Interface()
	}
	return proto
}
