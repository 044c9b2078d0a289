package observer

import (
	"github.com/sirupsen/logrus"
	"github.com/suprememoocow/textronics-monitor/pkg/types"
)

// StatusRecorder is updated by the status handlers.
type StatusRecorder interface {
	SetConnectionStatus(connected bool)
	SetDeviceState(device string, update types.UpdateEvent)
	NotificationDispatched(update types.UpdateEvent)
}

// InstallStatusHandlers replaces every default handler with one that logs
// the update and records it on rec.
func (o *Observer) InstallStatusHandlers(rec StatusRecorder) {
	ble := func(msg string) Handler {
		return func(n types.Notification) {
			o.log.WithField("device", n.DeviceAddress()).Info(msg)
			rec.SetDeviceState(n.DeviceAddress(), n.Update)
			rec.NotificationDispatched(n.Update)
		}
	}
	mqtt := func(msg string, connected bool) Handler {
		return func(n types.Notification) {
			o.log.WithFields(logrus.Fields{"connected": connected}).Info(msg)
			rec.SetConnectionStatus(connected)
			rec.NotificationDispatched(n.Update)
		}
	}

	o.SetHandler(types.BleConnecting, ble("connecting to device"))
	o.SetHandler(types.BleConnected, ble("device connected"))
	o.SetHandler(types.BleDisconnecting, ble("disconnecting from device"))
	o.SetHandler(types.BleDisconnected, ble("device disconnected"))
	o.SetHandler(types.MqttConnected, mqtt("connected to mqtt server", true))
	o.SetHandler(types.MqttDisconnected, mqtt("disconnected from mqtt server", false))
}
