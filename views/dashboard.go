package views

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wifiwatch/go-wifiwatch/api"
	"github.com/wifiwatch/go-wifiwatch/events"
)

// DashboardView mirrors the aggregate dashboard counters. Alert events bump
// the unacknowledged counter in place; device and scan events trigger a full
// stats re-fetch.
type DashboardView struct {
	view
	client Client

	stats  api.DashboardStats
	loaded bool
}

// NewDashboardView builds an empty dashboard projection.
func NewDashboardView(client Client, options ...Option) (*DashboardView, error) {
	if client == nil {
		return nil, errors.New("[NewDashboardView] client is required")
	}
	v := &DashboardView{client: client}
	initView(&v.view, options)
	return v, nil
}

// Refresh fetches the current stats. A response overtaken by a newer fetch
// is discarded without touching the snapshot.
func (v *DashboardView) Refresh(ctx context.Context) error {
	seq := v.begin()
	stats, err := v.client.DashboardStats(ctx)
	if err != nil {
		return errors.Wrap(err, "[DashboardView.Refresh]")
	}
	v.commit(seq, func() {
		v.stats = stats
		v.loaded = true
	})
	return nil
}

// Stats returns the current snapshot and whether one has been loaded.
func (v *DashboardView) Stats() (api.DashboardStats, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats, v.loaded
}

// Bind subscribes the view to the event channel and returns the unsubscribe
// function. Re-fetches run off the dispatch goroutine so slow responses
// never stall event delivery; ctx bounds those background fetches.
func (v *DashboardView) Bind(ctx context.Context, ch *events.Channel) func() {
	return chain(
		ch.Subscribe(events.MessageAlert, func(events.Message) {
			v.commit(0, func() {
				if v.loaded {
					v.stats.Alerts.Total++
					v.stats.Alerts.Unacknowledged++
				}
			})
		}),
		ch.Subscribe(events.MessageDeviceUpdate, func(events.Message) {
			go v.refresh(ctx)
		}),
		ch.Subscribe(events.MessageScanUpdate, func(events.Message) {
			go v.refresh(ctx)
		}),
	)
}

func (v *DashboardView) refresh(ctx context.Context) {
	if err := v.Refresh(ctx); err != nil {
		v.log.Warn().Err(err).Msg("dashboard refresh failed")
	}
}
