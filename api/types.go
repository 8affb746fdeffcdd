package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Time wraps time.Time to accept the service's timestamp encodings, which
// arrive both with and without a zone offset.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.Format(time.RFC3339))), nil
}

// ScanResult is one observation of a device during a scan.
type ScanResult struct {
	ID             int64    `json:"id"`
	IPAddress      string   `json:"ip_address"`
	RSSI           *int     `json:"rssi"`
	ScanTimestamp  Time     `json:"scan_timestamp"`
	IsConnected    bool     `json:"is_connected"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
}

// Device is a tracked network device.
type Device struct {
	ID           int64       `json:"id"`
	MACAddress   string      `json:"mac_address"`
	Hostname     *string     `json:"hostname"`
	Vendor       *string     `json:"vendor"`
	DeviceType   *string     `json:"device_type"`
	FirstSeen    Time        `json:"first_seen"`
	LastSeen     Time        `json:"last_seen"`
	IsTrusted    bool        `json:"is_trusted"`
	IsSuspicious bool        `json:"is_suspicious"`
	Notes        *string     `json:"notes"`
	IsOnline     bool        `json:"is_online"`
	LatestScan   *ScanResult `json:"latest_scan"`
}

// DeviceList is one page of devices.
type DeviceList struct {
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Devices  []Device `json:"devices"`
}

// DeviceUpdate carries the mutable device fields; nil fields are left
// unchanged by the service.
type DeviceUpdate struct {
	Hostname     *string `json:"hostname,omitempty"`
	DeviceType   *string `json:"device_type,omitempty"`
	IsTrusted    *bool   `json:"is_trusted,omitempty"`
	IsSuspicious *bool   `json:"is_suspicious,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// DeviceFilter narrows and pages the device listing.
type DeviceFilter struct {
	Page         int
	PageSize     int
	IsTrusted    *bool
	IsSuspicious *bool
	IsOnline     *bool
	Search       string
}

func (f DeviceFilter) values() url.Values {
	v := url.Values{}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(f.PageSize))
	}
	if f.IsTrusted != nil {
		v.Set("is_trusted", strconv.FormatBool(*f.IsTrusted))
	}
	if f.IsSuspicious != nil {
		v.Set("is_suspicious", strconv.FormatBool(*f.IsSuspicious))
	}
	if f.IsOnline != nil {
		v.Set("is_online", strconv.FormatBool(*f.IsOnline))
	}
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	return v
}

// AlertDevice is the device summary embedded in an alert.
type AlertDevice struct {
	MACAddress string  `json:"mac_address"`
	Hostname   *string `json:"hostname"`
	Vendor     *string `json:"vendor"`
}

// Alert is one security or activity alert.
type Alert struct {
	ID                     int64          `json:"id"`
	DeviceID               *int64         `json:"device_id"`
	AlertType              string         `json:"alert_type"`
	Severity               string         `json:"severity"`
	Message                string         `json:"message"`
	Details                map[string]any `json:"details"`
	IsAcknowledged         bool           `json:"is_acknowledged"`
	AcknowledgedBy         *int64         `json:"acknowledged_by"`
	AcknowledgedByUsername *string        `json:"acknowledged_by_username"`
	CreatedAt              Time           `json:"created_at"`
	AcknowledgedAt         *Time          `json:"acknowledged_at"`
	Device                 *AlertDevice   `json:"device"`
}

// AlertList is one page of alerts plus the outstanding count.
type AlertList struct {
	Total               int     `json:"total"`
	Page                int     `json:"page"`
	PageSize            int     `json:"page_size"`
	UnacknowledgedCount int     `json:"unacknowledged_count"`
	Alerts              []Alert `json:"alerts"`
}

// AlertFilter narrows and pages the alert listing.
type AlertFilter struct {
	Page           int
	PageSize       int
	AlertType      string
	Severity       string
	IsAcknowledged *bool
	DeviceID       *int64
}

func (f AlertFilter) values() url.Values {
	v := url.Values{}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(f.PageSize))
	}
	if f.AlertType != "" {
		v.Set("alert_type", f.AlertType)
	}
	if f.Severity != "" {
		v.Set("severity", f.Severity)
	}
	if f.IsAcknowledged != nil {
		v.Set("is_acknowledged", strconv.FormatBool(*f.IsAcknowledged))
	}
	if f.DeviceID != nil {
		v.Set("device_id", strconv.FormatInt(*f.DeviceID, 10))
	}
	return v
}

// ScanRequest configures a network scan.
type ScanRequest struct {
	NetworkRange string `json:"network_range,omitempty"`
	ScanType     string `json:"scan_type,omitempty"`
	Timeout      int    `json:"timeout,omitempty"`
}

// ScanSession is one scan run, in progress or finished.
type ScanSession struct {
	ID                int64   `json:"id"`
	StartedAt         Time    `json:"started_at"`
	CompletedAt       *Time   `json:"completed_at"`
	TotalDevicesFound int     `json:"total_devices_found"`
	NewDevicesFound   int     `json:"new_devices_found"`
	ScanType          string  `json:"scan_type"`
	NetworkRange      *string `json:"network_range"`
	Status            string  `json:"status"`
	ErrorMessage      *string `json:"error_message"`
	DurationSeconds   float64 `json:"duration_seconds"`
}

// ScanStatus reports whether a scan is running and the most recent session.
type ScanStatus struct {
	IsScanning                bool         `json:"is_scanning"`
	CurrentSession            *ScanSession `json:"current_session"`
	LastScanTime              *Time        `json:"last_scan_time"`
	NextScheduledScan         *Time        `json:"next_scheduled_scan"`
	DevicesFoundInCurrentScan int          `json:"devices_found_in_current_scan"`
}

// ScanHistory is one page of past scan sessions.
type ScanHistory struct {
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Sessions []ScanSession `json:"sessions"`
}

// DeviceCounts groups the device totals on the dashboard.
type DeviceCounts struct {
	Total      int `json:"total"`
	Online     int `json:"online"`
	Offline    int `json:"offline"`
	Trusted    int `json:"trusted"`
	Suspicious int `json:"suspicious"`
	NewToday   int `json:"new_today"`
}

// AlertCounts groups the alert totals on the dashboard.
type AlertCounts struct {
	Total          int `json:"total"`
	Unacknowledged int `json:"unacknowledged"`
}

// ScanCounts groups the scan totals on the dashboard.
type ScanCounts struct {
	Total        int   `json:"total"`
	LastScanTime *Time `json:"last_scan_time"`
}

// DashboardStats is the aggregate snapshot behind the dashboard view.
type DashboardStats struct {
	Devices         DeviceCounts   `json:"devices"`
	Alerts          AlertCounts    `json:"alerts"`
	Scans           ScanCounts     `json:"scans"`
	DevicesByVendor map[string]int `json:"devices_by_vendor"`
}
