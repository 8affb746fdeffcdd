// Package views keeps client-side projections of the monitoring service in
// sync: each view holds a snapshot, re-fetches it through the dispatcher
// when a relevant event arrives, and notifies listeners on every applied
// change.
package views

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wifiwatch/go-wifiwatch/api"
)

// Client is the slice of the REST surface the views fetch through. The api
// Client satisfies it.
type Client interface {
	DashboardStats(ctx context.Context) (api.DashboardStats, error)
	Devices(ctx context.Context, filter api.DeviceFilter) (api.DeviceList, error)
	Alerts(ctx context.Context, filter api.AlertFilter) (api.AlertList, error)
	AcknowledgeAlert(ctx context.Context, id int64, notes string) (api.Alert, error)
}

// Option configures a view during construction.
type Option func(*view)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(v *view) { v.log = log }
}

// view carries the pieces every projection shares: the snapshot lock, the
// fetch sequence used to discard stale responses, and change listeners.
type view struct {
	log zerolog.Logger

	mu        sync.Mutex
	fetches   atomic.Uint64
	applied   uint64
	listeners []func()
}

func initView(v *view, options []Option) {
	v.log = zerolog.Nop()
	for _, opt := range options {
		opt(v)
	}
}

// begin reserves the next fetch sequence number. Responses commit in
// sequence order; a response overtaken by a later one is discarded.
func (v *view) begin() uint64 {
	return v.fetches.Add(1)
}

// commit applies fn under the lock unless a later fetch already landed.
// A zero seq applies unconditionally (local mutations, not fetches).
// Listeners run after the lock is released.
func (v *view) commit(seq uint64, fn func()) bool {
	v.mu.Lock()
	if seq != 0 {
		if seq < v.applied {
			v.mu.Unlock()
			v.log.Debug().Uint64("seq", seq).Msg("discarding stale response")
			return false
		}
		v.applied = seq
	}
	fn()
	listeners := make([]func(), len(v.listeners))
	copy(listeners, v.listeners)
	v.mu.Unlock()

	for _, listener := range listeners {
		listener()
	}
	return true
}

// OnChange registers a listener fired after every applied change.
func (v *view) OnChange(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// chain merges unsubscribe functions into one.
func chain(fns ...func()) func() {
	return func() {
		for _, fn := range fns {
			fn()
		}
	}
}
