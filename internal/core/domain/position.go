package domain

import (
	"encoding/json"
	"errors"
)

// PositionEvent is a validated rider position received on the tracking channel.
// The wire format carries no sequence number or timestamp; ordering is inferred
// solely from arrival order on the socket.
type PositionEvent struct {
	Lat float64
	Lng float64
}

var ErrMalformedFrame = errors.New("frame is not valid JSON")
var ErrPartialPosition = errors.New("frame is missing a coordinate")

// positionFrame mirrors the inbound wire shape. Pointers distinguish an absent
// coordinate from a genuine zero; unrelated fields are ignored.
type positionFrame struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// DecodePositionFrame parses a single inbound text frame. Frames that are not
// JSON objects, or that carry only one of the two coordinates, are rejected so
// that partial updates never reach a position sink.
func DecodePositionFrame(data []byte) (PositionEvent, error) {
	var frame positionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return PositionEvent{}, ErrMalformedFrame
	}
	if frame.Lat == nil || frame.Lng == nil {
		return PositionEvent{}, ErrPartialPosition
	}
	return PositionEvent{Lat: *frame.Lat, Lng: *frame.Lng}, nil
}

// Coords returns the event as a Coordinates value.
func (p PositionEvent) Coords() Coordinates {
	return Coordinates{Lat: p.Lat, Lng: p.Lng}
}
