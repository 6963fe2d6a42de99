package transport

import (
	"encoding/json"
	"fmt"
)

// Event names on the push channel.
const (
	EventGetLocations = "get_locations"
	EventProgress     = "progress"
	EventError        = "error"
)

// Event is the envelope of every message on the push channel.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// GetLocationsRequest is the payload of the get_locations event.
type GetLocationsRequest struct {
	URL string `json:"url"`
}

// ErrorPayload is the payload of a server error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEvent marshals data into an event envelope.
func NewEvent(name string, data any) (Event, error) {
	evt := Event{Event: name}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		evt.Data = raw
	}
	return evt, nil
}
