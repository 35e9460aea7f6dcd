package ports

// MapSink is any consumer registered to receive validated rider position
// events, typically a map renderer. Implementations must not block: sinks are
// invoked inline on the frame-processing loop.
type MapSink interface {
	SetMarker(lat, lng float64)
	Pan(lat, lng float64)
}
