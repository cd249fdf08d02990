package domain

import "time"

// DeliveryState tracks the publication of a result for a request.
type DeliveryState string

const (
	DeliveryStatePending       DeliveryState = "pending"
	DeliveryStateConfirmed     DeliveryState = "confirmed"
	DeliveryStatePublishFailed DeliveryState = "publish_failed"
	// DeliveryStateAbandoned marks requests closed without an on-chain
	// Deliver (timeouts under the default policy).
	DeliveryStateAbandoned DeliveryState = "abandoned"
)

// Terminal reports whether the delivery needs no further publish work.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryStateConfirmed || s == DeliveryStateAbandoned
}

// Delivery is the per-request publication record. Owned by the publisher.
type Delivery struct {
	RequestID    string
	ResponseHash string
	TxHash       string
	State        DeliveryState
	Attempts     int
	UpdatedAt    time.Time
}
