package views

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wifiwatch/go-wifiwatch/api"
	"github.com/wifiwatch/go-wifiwatch/events"
)

const defaultPageSize = 20

// DevicesView mirrors one page of the device listing. Any device_update
// event re-fetches the current page; events for devices outside the page,
// or for devices this client has never seen, change nothing.
type DevicesView struct {
	view
	client Client

	filter api.DeviceFilter
	list   api.DeviceList
	loaded bool
}

// NewDevicesView builds a device projection starting on the first page.
func NewDevicesView(client Client, options ...Option) (*DevicesView, error) {
	if client == nil {
		return nil, errors.New("[NewDevicesView] client is required")
	}
	v := &DevicesView{
		client: client,
		filter: api.DeviceFilter{Page: 1, PageSize: defaultPageSize},
	}
	initView(&v.view, options)
	return v, nil
}

// SetFilter replaces the listing filter and fetches the matching page.
func (v *DevicesView) SetFilter(ctx context.Context, filter api.DeviceFilter) error {
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
func (v *DevicesView) Refresh(ctx context.Context) error {
	v.mu.Lock()
	filter := v.filter
	v.mu.Unlock()

	seq := v.begin()
	list, err := v.client.Devices(ctx, filter)
	if err != nil {
		return errors.Wrap(err, "[DevicesView.Refresh]")
	}
	v.commit(seq, func() {
		v.list = list
		v.loaded = true
	})
	return nil
}

// Devices returns the current page and whether one has been loaded.
func (v *DevicesView) Devices() (api.DeviceList, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list, v.loaded
}

// Bind subscribes the view to device events; re-fetches run off the
// dispatch goroutine.
func (v *DevicesView) Bind(ctx context.Context, ch *events.Channel) func() {
	return ch.Subscribe(events.MessageDeviceUpdate, func(events.Message) {
		go func() {
			if err := v.Refresh(ctx); err != nil {
				v.log.Warn().Err(err).Msg("device list refresh failed")
			}
		}()
	})
}
