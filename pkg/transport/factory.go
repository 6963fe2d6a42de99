package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/locmap/pkg/cache"
)

// Kind selects a transport implementation.
type Kind string

const (
	// KindPoll requests every page with GET /get_locations.
	KindPoll Kind = "poll"
	// KindPush receives pages as progress events over a WebSocket.
	KindPush Kind = "push"
)

// Config holds configuration for creating a transport.
type Config struct {
	Kind Kind

	// BaseURL is the extraction service root, e.g. http://localhost:5000
	BaseURL string

	// Timeout bounds one poll request and the push handshake
	Timeout time.Duration

	// UserAgent is sent with every poll request and the push handshake
	UserAgent string

	// EventsPath is the WebSocket path of the push endpoint
	EventsPath string

	// Cache enables the poll page cache when non-nil
	Cache    *cache.Manager
	CacheTTL time.Duration
}

// DefaultConfig returns a poll configuration against a local service.
func DefaultConfig() Config {
	return Config{
		Kind:       KindPoll,
		BaseURL:    "http://localhost:5000",
		Timeout:    2 * time.Minute,
		UserAgent:  "locmap/0.1.0",
		EventsPath: DefaultEventsPath,
		CacheTTL:   cache.DefaultTTL,
	}
}

// New creates the transport selected by cfg.Kind.
func New(cfg Config) (Transport, error) {
	switch cfg.Kind {
	case KindPoll:
		return NewPoll(PollConfig{
			BaseURL:    cfg.BaseURL,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
			UserAgent:  cfg.UserAgent,
			Cache:      cfg.Cache,
			CacheTTL:   cfg.CacheTTL,
		})
	case KindPush:
		return NewPush(PushConfig{
			BaseURL:          cfg.BaseURL,
			Path:             cfg.EventsPath,
			HandshakeTimeout: cfg.Timeout,
			UserAgent:        cfg.UserAgent,
		})
	default:
		return nil, fmt.Errorf("unsupported transport kind: %q", cfg.Kind)
	}
}
