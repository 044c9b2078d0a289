package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/suprememoocow/textronics-monitor/pkg/types"
)

const namespace = "textronics"

// Values reported by the ble_device_state gauge.
const (
	BLEStateDisconnected  = 0
	BLEStateConnecting    = 1
	BLEStateConnected     = 2
	BLEStateDisconnecting = 3
)

type Metrics struct {
	clientID string

	connectionStatus                 *prometheus.GaugeVec
	connectionStatusSinceTimeSeconds *prometheus.GaugeVec
	bleDeviceState                   *prometheus.GaugeVec
	subscriptionsUpdatesTotal        *prometheus.CounterVec
	subscriptionsUpdatesIgnoredTotal *prometheus.CounterVec
	notificationsTotal               *prometheus.CounterVec
	notificationsIgnoredTotal        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(clientID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		clientID: clientID,
		connectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connection_state",
			Help:      "0=Disconnected; 1=Connected",
		}, []string{"client_id"}),
		connectionStatusSinceTimeSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connection_state_since_time_seconds",
			Help:      "Time since last change to mqtt_connection_state",
		}, []string{"client_id"}),
		bleDeviceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ble_device_state",
			Help:      "0=Disconnected; 1=Connecting; 2=Connected; 3=Disconnecting",
		}, []string{"device"}),
		subscriptionsUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_subscription_updates_total",
			Help:      "MQTT subscriptions updated received",
		}, []string{"client_id"}),
		subscriptionsUpdatesIgnoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_subscription_updates_ignored_total",
			Help:      "MQTT subscription updates ignored",
		}, []string{"client_id"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Update notifications dispatched, by update type",
		}, []string{"update"}),
		notificationsIgnoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_ignored_total",
			Help:      "Update notifications dropped, by reason",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.connectionStatus,
		m.connectionStatusSinceTimeSeconds,
		m.bleDeviceState,
		m.subscriptionsUpdatesTotal,
		m.subscriptionsUpdatesIgnoredTotal,
		m.notificationsTotal,
		m.notificationsIgnoredTotal,
	)

	return m
}

func (m *Metrics) SetConnectionStatus(connected bool) {
	status := float64(0)
	if connected {
		status = 1
	}
	m.connectionStatus.WithLabelValues(m.clientID).Set(status)
	m.connectionStatusSinceTimeSeconds.WithLabelValues(m.clientID).Set(float64(time.Now().Unix()))
}

func (m *Metrics) SubscriptionReceived() {
	m.subscriptionsUpdatesTotal.WithLabelValues(m.clientID).Inc()
}

func (m *Metrics) SubscriptionIgnored() {
	m.subscriptionsUpdatesIgnoredTotal.WithLabelValues(m.clientID).Inc()
}

// SetDeviceState records the BLE link state of a device. Non-BLE updates
// are ignored.
func (m *Metrics) SetDeviceState(device string, update types.UpdateEvent) {
	var state float64
	switch update {
	case types.BleConnecting:
		state = BLEStateConnecting
	case types.BleConnected:
		state = BLEStateConnected
	case types.BleDisconnecting:
		state = BLEStateDisconnecting
	case types.BleDisconnected:
		state = BLEStateDisconnected
	default:
		return
	}
	m.bleDeviceState.WithLabelValues(device).Set(state)
}

func (m *Metrics) NotificationDispatched(update types.UpdateEvent) {
	m.notificationsTotal.WithLabelValues(update.String()).Inc()
}

func (m *Metrics) NotificationIgnored(reason string) {
	m.notificationsIgnoredTotal.WithLabelValues(reason).Inc()
}

var _ types.Observer = (*Metrics)(nil)
