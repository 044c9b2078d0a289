package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/suprememoocow/textronics-monitor/pkg/types"
)

// Keys of the untyped update bundle.
const (
	KeyDevice = "UPDATE_DEVICE"
	KeyType   = "UPDATE_TYPE"
)

var (
	ErrTopicLengthTooShort = errors.New("topic length too short")
	ErrPayloadNotString    = errors.New("payload cannot be marshalled to string")
	ErrUnknownUpdate       = errors.New("unknown update type")
	ErrNotBLEUpdate        = errors.New("update is not a ble update")
)

type payloadValue struct {
	Value interface{} `json:"value"`
}

func parse(payload []byte) (interface{}, error) {
	v := payloadValue{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", err
	}

	return v.Value, nil
}

func ParsePayloadAsString(payload []byte) (string, error) {
	v, err := parse(payload)
	if err != nil {
		return "", err
	}

	val, ok := v.(string)
	if !ok {
		return "", ErrPayloadNotString
	}

	return val, nil
}

// ParseBLEState decodes a bridge message published on
// textronics/ble/<address>/state.
func ParseBLEState(topic string, payload []byte) (types.Notification, error) {
	topicParts := strings.Split(topic, "/")

	if len(topicParts) < 4 || topicParts[2] == "" {
		return types.Notification{}, ErrTopicLengthTooShort
	}

	value, err := ParsePayloadAsString(payload)
	if err != nil {
		return types.Notification{}, err
	}

	update, ok := types.ParseUpdateEvent(value)
	if !ok {
		return types.Notification{}, fmt.Errorf("%w: %q", ErrUnknownUpdate, value)
	}
	if !update.IsBLE() {
		return types.Notification{}, fmt.Errorf("%w: %s", ErrNotBLEUpdate, update)
	}

	return types.NewBLENotification(topicParts[2], update), nil
}

// FromBundle converts an untyped key-value bundle into a notification,
// keeping track of which keys were present. A nil device value is allowed;
// MQTT updates carry no address.
func FromBundle(bundle map[string]interface{}) types.Notification {
	n := types.Notification{}
	if bundle == nil {
		return n
	}

	if raw, ok := bundle[KeyDevice]; ok {
		n.HasDevice = true
		if s, ok := raw.(string); ok {
			n.Device = &s
		}
	}

	if raw, ok := bundle[KeyType]; ok {
		n.HasUpdate = true
		switch v := raw.(type) {
		case types.UpdateEvent:
			n.Update = v
		case string:
			if u, ok := types.ParseUpdateEvent(v); ok {
				n.Update = u
			} else if v != "" {
				n.Update = types.UpdateEvent(-1)
			}
		}
	}

	return n
}
