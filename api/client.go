// Package api exposes typed operations on the monitoring service's REST
// surface. All calls go through the dispatcher, which handles bearer auth
// and transparent token renewal.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/wifiwatch/go-wifiwatch/transport"
)

// Doer executes one authenticated request. The transport Dispatcher
// satisfies it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Client is the typed REST client.
type Client struct {
	dispatcher Doer
}

// NewClient builds a Client over the given dispatcher.
func NewClient(dispatcher Doer) (*Client, error) {
	if dispatcher == nil {
		return nil, errors.New("[NewClient] dispatcher is required")
	}
	return &Client{dispatcher: dispatcher}, nil
}

// Devices lists devices matching the filter.
func (c *Client) Devices(ctx context.Context, filter DeviceFilter) (DeviceList, error) {
	var list DeviceList
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/devices",
		Query:  filter.values(),
	})
	if err != nil {
		return list, errors.Wrap(err, "[Client.Devices]")
	}
	if err := resp.Decode(&list); err != nil {
		return list, errors.Wrap(err, "[Client.Devices]")
	}
	return list, nil
}

// Device fetches one device by id.
func (c *Client) Device(ctx context.Context, id int64) (Device, error) {
	var device Device
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/api/devices/%d", id),
	})
	if err != nil {
		return device, errors.Wrap(err, "[Client.Device]")
	}
	if err := resp.Decode(&device); err != nil {
		return device, errors.Wrap(err, "[Client.Device]")
	}
	return device, nil
}

// UpdateDevice applies the non-nil fields of the update and returns the
// resulting device.
func (c *Client) UpdateDevice(ctx context.Context, id int64, update DeviceUpdate) (Device, error) {
	var device Device
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/api/devices/%d", id),
		Body:   update,
	})
	if err != nil {
		return device, errors.Wrap(err, "[Client.UpdateDevice]")
	}
	if err := resp.Decode(&device); err != nil {
		return device, errors.Wrap(err, "[Client.UpdateDevice]")
	}
	return device, nil
}

// DeleteDevice removes a device. The service answers with no content.
func (c *Client) DeleteDevice(ctx context.Context, id int64) error {
	_, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/api/devices/%d", id),
	})
	return errors.Wrap(err, "[Client.DeleteDevice]")
}

// Alerts lists alerts matching the filter.
func (c *Client) Alerts(ctx context.Context, filter AlertFilter) (AlertList, error) {
	var list AlertList
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/alerts",
		Query:  filter.values(),
	})
	if err != nil {
		return list, errors.Wrap(err, "[Client.Alerts]")
	}
	if err := resp.Decode(&list); err != nil {
		return list, errors.Wrap(err, "[Client.Alerts]")
	}
	return list, nil
}

// AcknowledgeAlert marks one alert as handled. Acknowledging an already
// acknowledged alert is rejected by the service.
func (c *Client) AcknowledgeAlert(ctx context.Context, id int64, notes string) (Alert, error) {
	var alert Alert
	body := map[string]string{}
	if notes != "" {
		body["notes"] = notes
	}
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/api/alerts/%d/acknowledge", id),
		Body:   body,
	})
	if err != nil {
		return alert, errors.Wrap(err, "[Client.AcknowledgeAlert]")
	}
	if err := resp.Decode(&alert); err != nil {
		return alert, errors.Wrap(err, "[Client.AcknowledgeAlert]")
	}
	return alert, nil
}

// AcknowledgeAllAlerts marks every outstanding alert as handled.
func (c *Client) AcknowledgeAllAlerts(ctx context.Context) error {
	_, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/alerts/acknowledge-all",
	})
	return errors.Wrap(err, "[Client.AcknowledgeAllAlerts]")
}

// StartScan kicks off a network scan. While another scan is running the
// service rejects the request with a conflict; the rejection carries the
// service's message verbatim and is never retried.
func (c *Client) StartScan(ctx context.Context, req ScanRequest) (ScanSession, error) {
	var session ScanSession
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/api/scans/start",
		Body:   req,
	})
	if err != nil {
		return session, errors.Wrap(err, "[Client.StartScan]")
	}
	if err := resp.Decode(&session); err != nil {
		return session, errors.Wrap(err, "[Client.StartScan]")
	}
	return session, nil
}

// ScanStatus reports the current scanning state.
func (c *Client) ScanStatus(ctx context.Context) (ScanStatus, error) {
	var status ScanStatus
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/scans/status",
	})
	if err != nil {
		return status, errors.Wrap(err, "[Client.ScanStatus]")
	}
	if err := resp.Decode(&status); err != nil {
		return status, errors.Wrap(err, "[Client.ScanStatus]")
	}
	return status, nil
}

// ScanHistory lists past scan sessions, newest first.
func (c *Client) ScanHistory(ctx context.Context, page, pageSize int) (ScanHistory, error) {
	var history ScanHistory
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/scans/history",
		Query:  query,
	})
	if err != nil {
		return history, errors.Wrap(err, "[Client.ScanHistory]")
	}
	if err := resp.Decode(&history); err != nil {
		return history, errors.Wrap(err, "[Client.ScanHistory]")
	}
	return history, nil
}

// DashboardStats fetches the aggregate dashboard snapshot.
func (c *Client) DashboardStats(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats
	resp, err := c.dispatcher.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/dashboard/stats",
	})
	if err != nil {
		return stats, errors.Wrap(err, "[Client.DashboardStats]")
	}
	if err := resp.Decode(&stats); err != nil {
		return stats, errors.Wrap(err, "[Client.DashboardStats]")
	}
	return stats, nil
}
