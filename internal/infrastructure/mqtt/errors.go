package mqtt

import "errors"

var (
	// ErrNotConnected is returned for operations attempted while the broker
	// link is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps a failed or timed out initial connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic covers empty topics and topics ParseHotplug rejects.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
