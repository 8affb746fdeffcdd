package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MessageType is the closed set of inbound message kinds. Frames naming a
// type outside this set decode to MessageUnknown and are ignored by
// dispatch, not treated as errors.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageAlert
	MessageDeviceUpdate
	MessageScanUpdate
)

func (t MessageType) String() string {
	switch t {
	case MessageAlert:
		return "alert"
	case MessageDeviceUpdate:
		return "device_update"
	case MessageScanUpdate:
		return "scan_update"
	default:
		return "unknown"
	}
}

func parseMessageType(s string) MessageType {
	switch s {
	case "alert":
		return MessageAlert
	case "device_update":
		return MessageDeviceUpdate
	case "scan_update":
		return MessageScanUpdate
	default:
		return MessageUnknown
	}
}

// Message is one decoded inbound frame. Data stays raw; consumers decode it
// through the typed accessors for the kinds they handle. Messages are
// ephemeral: consumed by dispatch, never persisted or replayed.
type Message struct {
	Type      MessageType
	Event     string
	Data      json.RawMessage
	Timestamp time.Time
}

// wireMessage matches the server frame
// {"type": ..., "event"?: ..., "data": ..., "timestamp": ...}.
type wireMessage struct {
	Type      string          `json:"type"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func decodeMessage(frame []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(frame, &wire); err != nil {
		return Message{}, errors.Wrap(err, "[decodeMessage]")
	}
	return Message{
		Type:      parseMessageType(wire.Type),
		Event:     wire.Event,
		Data:      wire.Data,
		Timestamp: parseTimestamp(wire.Timestamp),
	}, nil
}

// parseTimestamp handles both RFC3339 and the zone-less ISO form the server
// emits. A zero time means the frame carried no usable timestamp.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// AlertData is the payload of an alert message.
type AlertData struct {
	ID        int64          `json:"id"`
	DeviceID  *int64         `json:"device_id"`
	AlertType string         `json:"alert_type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
}

// DeviceUpdateData is the payload of a device_update message. The Event
// field of the enclosing Message distinguishes "discovered" from "updated".
type DeviceUpdateData struct {
	MACAddress string `json:"mac_address"`
	IsNew      bool   `json:"is_new"`
}

// ScanUpdateData is the payload of a scan_update message.
type ScanUpdateData struct {
	Status       string `json:"status"`
	SessionID    int64  `json:"session_id"`
	TotalDevices int    `json:"total_devices"`
	NewDevices   int    `json:"new_devices"`
	Error        string `json:"error,omitempty"`
}

// Alert decodes the payload of an alert message.
func (m Message) Alert() (AlertData, error) {
	var data AlertData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return AlertData{}, errors.Wrap(err, "[Message.Alert]")
	}
	return data, nil
}

// DeviceUpdate decodes the payload of a device_update message.
func (m Message) DeviceUpdate() (DeviceUpdateData, error) {
	var data DeviceUpdateData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return DeviceUpdateData{}, errors.Wrap(err, "[Message.DeviceUpdate]")
	}
	return data, nil
}

// ScanUpdate decodes the payload of a scan_update message.
func (m Message) ScanUpdate() (ScanUpdateData, error) {
	var data ScanUpdateData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return ScanUpdateData{}, errors.Wrap(err, "[Message.ScanUpdate]")
	}
	return data, nil
}
