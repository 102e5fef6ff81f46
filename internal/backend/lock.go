package backend

import (
	"context"
	"sync"
)

// outputs serialises builds that write the same output directory.
var outputs = newKeyedLock()

// keyedLock is a set of context-aware mutexes addressed by key.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]chan struct{})}
}

// lock acquires key, giving up when ctx is done. The returned func releases it.
func (k *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		k.slots[key] = slot
	}
	k.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// heldKey marks, in a context, the key its holder acquired on a keyedLock.
type heldKey struct{ k *keyedLock }

// acquire is lock, except that it is a no-op when ctx already holds key on k.
// The returned context carries the hold, so a decorator and the backend it
// wraps can both guard the same key.
func (k *keyedLock) acquire(ctx context.Context, key string) (context.Context, func(), error) {
	if held, _ := ctx.Value(heldKey{k}).(string); held == key {
		return ctx, func() {}, nil
	}
	unlock, err := k.lock(ctx, key)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, heldKey{k}, key), unlock, nil
}
