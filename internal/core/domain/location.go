package domain

import "errors"

// LocationMode records how the current location candidate was produced.
// AUTO is set by a successful device-location fix, MANUAL by any subsequent
// manual pin movement; the mode is sticky until the opposite trigger fires.
type LocationMode string

const (
	ModeAuto   LocationMode = "auto"
	ModeManual LocationMode = "manual"
)

var ErrNotServiceable = errors.New("location is not serviceable")
var ErrResolving = errors.New("location is still resolving")
var ErrNoBinding = errors.New("no serviceability binding stored")
var ErrLocationUnavailable = errors.New("device location unavailable")

// LocationCandidate is the currently proposed position together with the
// outcome of its own geocode round-trip. ResolvedAddress and IsServiceable
// always originate from the same geocode response.
type LocationCandidate struct {
	Coordinates
	Mode            LocationMode
	ResolvedAddress string
	IsServiceable   bool
}

// ServiceabilityBinding is the session-scoped association between a confirmed
// location and the fulfilling warehouse. It is written only as a whole after a
// successful serviceability check and cleared explicitly on logout or a
// not-serviceable verdict.
type ServiceabilityBinding struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	WarehouseID string  `json:"warehouse_id"`
}
