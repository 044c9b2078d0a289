package types

import "fmt"

// UpdateEvent is a status change reported by the TexTronics manager.
type UpdateEvent int

const (
	UpdateNone UpdateEvent = iota
	BleConnecting
	BleConnected
	BleDisconnecting
	BleDisconnected
	MqttConnected
	MqttDisconnected
)

var updateNames = map[UpdateEvent]string{
	BleConnecting:    "ble_connecting",
	BleConnected:     "ble_connected",
	BleDisconnecting: "ble_disconnecting",
	BleDisconnected:  "ble_disconnected",
	MqttConnected:    "mqtt_connected",
	MqttDisconnected: "mqtt_disconnected",
}

// UpdateEvents lists every known variant.
var UpdateEvents = []UpdateEvent{
	BleConnecting,
	BleConnected,
	BleDisconnecting,
	BleDisconnected,
	MqttConnected,
	MqttDisconnected,
}

func (u UpdateEvent) String() string {
	if u == UpdateNone {
		return "none"
	}
	if name, ok := updateNames[u]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(u))
}

// Known reports whether u is one of the defined variants.
func (u UpdateEvent) Known() bool {
	_, ok := updateNames[u]
	return ok
}

func (u UpdateEvent) IsBLE() bool {
	switch u {
	case BleConnecting, BleConnected, BleDisconnecting, BleDisconnected:
		return true
	}
	return false
}

// ParseUpdateEvent maps the wire name back to a variant. Unknown names
// return UpdateNone and false.
func ParseUpdateEvent(name string) (UpdateEvent, bool) {
	for u, n := range updateNames {
		if n == name {
			return u, true
		}
	}
	return UpdateNone, false
}

// Notification carries one update, plus the device address for BLE updates.
//
// HasDevice and HasUpdate record whether the corresponding keys were present
// when the notification was decoded from an untyped bundle.
type Notification struct {
	Device    *string
	Update    UpdateEvent
	HasDevice bool
	HasUpdate bool
}

// NewBLENotification builds a notification for a BLE device.
func NewBLENotification(address string, update UpdateEvent) Notification {
	return Notification{
		Device:    &address,
		Update:    update,
		HasDevice: true,
		HasUpdate: true,
	}
}

// NewMQTTNotification builds a notification without a device address.
func NewMQTTNotification(update UpdateEvent) Notification {
	return Notification{
		Update:    update,
		HasDevice: true,
		HasUpdate: true,
	}
}

// DeviceAddress returns the device address, or "" when absent.
func (n Notification) DeviceAddress() string {
	if n.Device == nil {
		return ""
	}
	return *n.Device
}

// Observer receives connection and subscription accounting from the worker.
type Observer interface {
	SetConnectionStatus(connected bool)
	SubscriptionReceived()
	SubscriptionIgnored()
}
