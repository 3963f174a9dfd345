// Package notify implements the change subscriber (C4): a dedicated,
// long-lived Postgres connection LISTENing on the four change channels,
// with capped exponential backoff reconnect and a full loader reload on
// reconnect (§4.4). Dispatch to per-entity handlers is hash-partitioned
// by id (dispatch.go) so that same-id notifications are always applied in
// arrival order while distinct ids proceed concurrently (§5).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pegesund/concentratee-cache-sub000/internal/errs"
	"github.com/pegesund/concentratee-cache-sub000/internal/obslog"
	"github.com/pegesund/concentratee-cache-sub000/internal/obsmetrics"
)

// Channels are the four named channels §4.4 specifies.
var Channels = []string{"students_changes", "profiles_changes", "rules_changes", "sessions_changes"}

// Operation is one of the five operation kinds a channel payload names.
type Operation string

const (
	OpInsert     Operation = "INSERT"
	OpUpdate     Operation = "UPDATE"
	OpDelete     Operation = "DELETE"
	OpReload     Operation = "RELOAD"
	OpReloadAll  Operation = "RELOAD_ALL"
)

// Notification is the decoded form of a channel payload. Only operation
// and id are guaranteed (§6); handlers always re-fetch full entity state
// by id rather than trust payload scalars, so no other fields are kept.
type Notification struct {
	Channel   string
	Operation Operation
	ID        int64
}

// rawPayload mirrors the JSON shape every channel emits; extra fields
// besides operation/id are accepted and ignored (§6: "payload keys" lists
// more than operation/id, but handlers re-fetch rather than trust them).
type rawPayload struct {
	Operation Operation `json:"operation"`
	ID        int64     `json:"id"`
}

func parsePayload(channel string, data []byte) (Notification, error) {
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", errs.ErrInvalidPayload, err)
	}
	switch raw.Operation {
	case OpInsert, OpUpdate, OpDelete, OpReload, OpReloadAll:
	default:
		return Notification{}, fmt.Errorf("%w: unrecognized operation %q", errs.ErrInvalidPayload, raw.Operation)
	}
	if raw.Operation != OpReloadAll && raw.ID == 0 {
		return Notification{}, fmt.Errorf("%w: missing id", errs.ErrInvalidPayload)
	}
	return Notification{Channel: channel, Operation: raw.Operation, ID: raw.ID}, nil
}

// Dispatcher applies one decoded notification to the cache. Implemented
// by internal/handlers.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Reloader performs a full C3 steps-2-5 reload, called after every
// successful reconnect (once LISTEN is re-established) to recover events
// missed during the outage.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Subscriber owns the dedicated LISTEN connection and its reconnect loop.
type Subscriber struct {
	connString string
	dispatcher Dispatcher
	reloader   Reloader

	minBackoff time.Duration
	maxBackoff time.Duration

	dispatch *dispatchPool
}

// New creates a Subscriber whose reconnect backoff starts at 1s and
// doubles up to a cap of 60s (§5).
func New(connString string, dispatcher Dispatcher, reloader Reloader) *Subscriber {
	return &Subscriber{
		connString: connString,
		dispatcher: dispatcher,
		reloader:   reloader,
		minBackoff: time.Second,
		maxBackoff: 60 * time.Second,
		dispatch:   newDispatchPool(dispatcher, 8),
	}
}

// Run drives the connect/listen/reconnect loop until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	go s.dispatch.run(ctx)
	defer s.dispatch.stop()

	backoff := s.minBackoff
	first := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !first {
			obsmetrics.RecordSubscriberReconnect()
			obslog.Warn("change subscriber reconnecting", obslog.String("backoff", backoff.String()))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}

		reconnect := !first
		err := s.listenOnce(ctx, func() {
			backoff = s.minBackoff
			if reconnect {
				if err := s.reloader.Reload(ctx); err != nil {
					obslog.Error("reload after reconnect failed", err)
				}
			}
		})
		obsmetrics.SetSubscriberConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			obslog.Error("change subscriber connection lost", fmt.Errorf("%w: %v", errs.ErrSubscriberLost, err))
		}

		first = false
	}
}

// listenOnce opens one dedicated connection, issues LISTEN on every
// channel, and blocks delivering notifications until the connection
// fails or ctx is canceled. onConnected is invoked once the connection
// and LISTENs succeed, letting the caller reset its backoff baseline so
// a connection that ran healthily for hours doesn't inherit a maxed-out
// backoff from an earlier, unrelated outage.
func (s *Subscriber) listenOnce(ctx context.Context, onConnected func()) error {
	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTransientStore, err)
	}
	defer conn.Close(context.Background())

	for _, ch := range Channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	obsmetrics.SetSubscriberConnected(true)
	obslog.Info("change subscriber connected", obslog.Int("channels", len(Channels)))
	onConnected()

	for {
		notif, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		n, err := parsePayload(notif.Channel, []byte(notif.Payload))
		if err != nil {
			obsmetrics.RecordNotificationDropped(notif.Channel)
			obslog.Warn("dropped invalid notification payload",
				obslog.Channel(notif.Channel), obslog.String("error", err.Error()))
			continue
		}

		obsmetrics.RecordNotification(n.Channel, string(n.Operation))
		s.dispatch.submit(n)
	}
}
