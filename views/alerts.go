package views

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wifiwatch/go-wifiwatch/api"
	"github.com/wifiwatch/go-wifiwatch/events"
)

// AlertsView mirrors one page of the alert listing plus the outstanding
// count. Incoming alert events re-fetch; acknowledgements go through the
// dispatcher and re-fetch on success.
type AlertsView struct {
	view
	client Client

	filter api.AlertFilter
	list   api.AlertList
	loaded bool
}

// NewAlertsView builds an alert projection starting on the first page.
func NewAlertsView(client Client, options ...Option) (*AlertsView, error) {
	if client == nil {
		return nil, errors.New("[NewAlertsView] client is required")
	}
	v := &AlertsView{
		client: client,
		filter: api.AlertFilter{Page: 1, PageSize: defaultPageSize},
	}
	initView(&v.view, options)
	return v, nil
}

// SetFilter replaces the listing filter and fetches the matching page.
func (v *AlertsView) SetFilter(ctx context.Context, filter api.AlertFilter) error {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = defaultPageSize
	}
	v.mu.Lock()
	v.filter = filter
	v.mu.Unlock()
	return v.Refresh(ctx)
}

// Refresh re-fetches the current page.
func (v *AlertsView) Refresh(ctx context.Context) error {
	v.mu.Lock()
	filter := v.filter
	v.mu.Unlock()

	seq := v.begin()
	list, err := v.client.Alerts(ctx, filter)
	if err != nil {
		return errors.Wrap(err, "[AlertsView.Refresh]")
	}
	v.commit(seq, func() {
		v.list = list
		v.loaded = true
	})
	return nil
}

// Alerts returns the current page and whether one has been loaded.
func (v *AlertsView) Alerts() (api.AlertList, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list, v.loaded
}

// Unacknowledged returns the outstanding alert count from the last fetch.
func (v *AlertsView) Unacknowledged() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list.UnacknowledgedCount
}

// Acknowledge marks one alert as handled and refreshes the listing.
func (v *AlertsView) Acknowledge(ctx context.Context, id int64, notes string) error {
	if _, err := v.client.AcknowledgeAlert(ctx, id, notes); err != nil {
		return errors.Wrap(err, "[AlertsView.Acknowledge]")
	}
	return v.Refresh(ctx)
}

// Bind subscribes the view to alert events; re-fetches run off the dispatch
// goroutine.
func (v *AlertsView) Bind(ctx context.Context, ch *events.Channel) func() {
	return ch.Subscribe(events.MessageAlert, func(events.Message) {
		go func() {
			if err := v.Refresh(ctx); err != nil {
				v.log.Warn().Err(err).Msg("alert list refresh failed")
			}
		}()
	})
}
