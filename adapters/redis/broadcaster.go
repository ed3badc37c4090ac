package redis

import (
	"context"
	"encoding/json"

	log "log/slog"

	"github.com/sharedcode/cuberepo"
)

// InvalidateChannel is the pub/sub channel carrying structural-change
// notifications between peer processes.
const InvalidateChannel = "cuberepo.invalidate"

// Message is the wire form of one change notification.
type Message struct {
	ID     string         `json:"id"`
	AppId  cuberepo.AppId `json:"appId"`
	Origin string         `json:"origin"`
}

// Broadcaster publishes structural-change notifications to the invalidate
// channel. Publishing is fire-and-forget: a goroutine retries with backoff and
// logs on final failure, never surfacing an error to the mutation path.
type Broadcaster struct {
	conn   *Connection
	origin string
}

// NewBroadcaster creates a Broadcaster over the singleton connection. Each
// broadcaster carries a unique origin so listeners skip their own messages.
func NewBroadcaster(conn *Connection) *Broadcaster {
	return &Broadcaster{conn: conn, origin: cuberepo.NewUUID().String()}
}

// Origin returns the unique identity stamped on published messages.
func (b *Broadcaster) Origin() string {
	return b.origin
}

func (b *Broadcaster) Broadcast(ctx context.Context, appId cuberepo.AppId) {
	msg := Message{
		ID:     cuberepo.NewUUID().String(),
		AppId:  appId,
		Origin: b.origin,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Warn("failed to encode change notification", "app", appId.String(), "err", err)
		return
	}
	// Detach from the caller's context; the mutation is already durable and
	// must not be undone by a canceled broadcast.
	go func() {
		err := cuberepo.Retry(context.Background(), func(ctx context.Context) error {
			return b.conn.Client.Publish(ctx, InvalidateChannel, payload).Err()
		}, nil)
		if err != nil {
			log.Warn("failed to publish change notification", "app", appId.String(), "err", err)
		}
	}()
}

// CacheInvalidator receives peer change notifications; the manager's
// ClearCache satisfies it.
type CacheInvalidator interface {
	ClearCache(appId cuberepo.AppId)
}

// Listener subscribes to the invalidate channel and clears the target's cache
// slice for every AppId a peer reports changed.
type Listener struct {
	conn   *Connection
	target CacheInvalidator
	origin string
}

// NewListener creates a Listener feeding target. origin should be the local
// broadcaster's Origin so self-published messages are skipped; empty means
// process everything.
func NewListener(conn *Connection, target CacheInvalidator, origin string) *Listener {
	return &Listener{conn: conn, target: target, origin: origin}
}

// Subscribe consumes notifications until ctx is canceled or the subscription
// closes. It blocks; run it on its own goroutine.
func (l *Listener) Subscribe(ctx context.Context) error {
	sub := l.conn.Client.Subscribe(ctx, InvalidateChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				log.Warn("malformed change notification", "payload", raw.Payload, "err", err)
				continue
			}
			if l.origin != "" && msg.Origin == l.origin {
				continue
			}
			log.Debug("peer change notification", "app", msg.AppId.String(), "origin", msg.Origin)
			l.target.ClearCache(msg.AppId)
		}
	}
}
