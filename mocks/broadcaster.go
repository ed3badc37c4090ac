package mocks

import (
	"context"
	"sync"

	"github.com/sharedcode/cuberepo"
)

// Broadcaster records broadcast AppIds for assertions.
type Broadcaster struct {
	mux  sync.Mutex
	sent []cuberepo.AppId
}

// NewBroadcaster creates an empty recording broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

func (b *Broadcaster) Broadcast(ctx context.Context, appId cuberepo.AppId) {
	b.mux.Lock()
	b.sent = append(b.sent, appId)
	b.mux.Unlock()
}

// Sent returns the AppIds broadcast so far.
func (b *Broadcaster) Sent() []cuberepo.AppId {
	b.mux.Lock()
	defer b.mux.Unlock()
	return append([]cuberepo.AppId{}, b.sent...)
}

// Reset clears the recorded broadcasts.
func (b *Broadcaster) Reset() {
	b.mux.Lock()
	b.sent = nil
	b.mux.Unlock()
}
