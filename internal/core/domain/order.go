package domain

import "errors"

// OrderStatus represents the lifecycle state of a storefront order.
type OrderStatus string

const (
	StatusPlaced         OrderStatus = "placed"
	StatusPacked         OrderStatus = "packed"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

// terminalStatuses are the states after which a tracking channel must be
// closed explicitly rather than left to time out.
var terminalStatuses = map[OrderStatus]struct{}{
	StatusDelivered: {},
	StatusCancelled: {},
}

var ErrMissingOrderID = errors.New("order id is missing")
var ErrOrderNotFound = errors.New("order not found")
var ErrOrderFinished = errors.New("order already reached a terminal status")
var ErrSessionClosed = errors.New("tracking session is closed")
var ErrTokenExpired = errors.New("auth token is expired")

// IsTerminal reports whether the order has reached a final state.
func (s OrderStatus) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// Coordinates represents a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ConnectionState is the lifecycle state of a tracking channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateClosed       ConnectionState = "closed"
)
