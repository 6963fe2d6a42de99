package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/Sternrassler/locmap/pkg/logging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultEventsPath is the WebSocket path of the push endpoint.
const DefaultEventsPath = "/events"

// PushConfig configures the push transport.
type PushConfig struct {
	// BaseURL is the service root; http(s) is mapped to ws(s)
	BaseURL string
	Path    string

	HandshakeTimeout time.Duration
	UserAgent        string
}

// Push receives pages as progress events on a WebSocket channel.
// The client asks once for the seed URL; following pages are pushed by the server.
type Push struct {
	endpoint  string
	dialer    *websocket.Dialer
	userAgent string
	logger    zerolog.Logger
}

// NewPush creates a push transport.
func NewPush(cfg PushConfig) (*Push, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("base url must be http, https, ws or wss (got %q)", cfg.BaseURL)
	}

	path := cfg.Path
	if path == "" {
		path = DefaultEventsPath
	}

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Push{
		endpoint: u.JoinPath(path).String(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		userAgent: cfg.UserAgent,
		logger:    logging.NewLogger("push-transport"),
	}, nil
}

// Name implements Transport.
func (p *Push) Name() string { return string(KindPush) }

// Open implements Transport. It dials the channel and emits get_locations for seedURL.
func (p *Push) Open(ctx context.Context, seedURL string) (Stream, error) {
	header := http.Header{}
	if p.userAgent != "" {
		header.Set("User-Agent", p.userAgent)
	}

	conn, resp, err := p.dialer.DialContext(ctx, p.endpoint, header)
	if err != nil {
		e := newError(p.Name(), ErrorClassNetwork, seedURL, err)
		if resp != nil {
			e.StatusCode = resp.StatusCode
			e.Class = classifyStatus(resp.StatusCode)
		}
		requestsTotal.WithLabelValues(p.Name(), "dial_error").Inc()
		p.logger.Error().Err(err).Str("endpoint", p.endpoint).Msg("Event channel dial failed")
		return nil, e
	}

	evt, err := NewEvent(EventGetLocations, GetLocationsRequest{URL: seedURL})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(evt); err != nil {
		conn.Close()
		return nil, newError(p.Name(), ErrorClassNetwork, seedURL, err)
	}

	p.logger.Debug().Str("url", seedURL).Str("endpoint", p.endpoint).Msg("Requested extraction")

	return &pushStream{
		push:    p,
		conn:    conn,
		seedURL: seedURL,
		started: time.Now(),
	}, nil
}

// pushStream reads progress events until the server closes the channel.
type pushStream struct {
	push    *Push
	conn    *websocket.Conn
	seedURL string
	started time.Time

	closeOnce sync.Once
	closeErr  error
}

// Next implements Stream.
func (s *pushStream) Next(ctx context.Context) (*extract.Page, error) {
	name := s.push.Name()

	// ReadJSON has no context; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		var evt Event
		if err := s.conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return nil, newError(name, ErrorClassNetwork, s.seedURL, ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.push.logger.Debug().Str("url", s.seedURL).Msg("Event channel closed by server")
				return nil, io.EOF
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, newError(name, ErrorClassDecode, s.seedURL, err)
			}
			requestsTotal.WithLabelValues(name, "network_error").Inc()
			return nil, newError(name, ErrorClassNetwork, s.seedURL, err)
		}

		switch evt.Event {
		case EventProgress:
			var page extract.Page
			if err := json.Unmarshal(evt.Data, &page); err != nil {
				return nil, newError(name, ErrorClassDecode, s.seedURL, err)
			}
			requestsTotal.WithLabelValues(name, "progress").Inc()
			requestDuration.WithLabelValues(name).Observe(time.Since(s.started).Seconds())
			s.started = time.Now()

			s.push.logger.Info().
				Str("url", s.seedURL).
				Int("locations", len(page.Locations)).
				Bool("has_next", page.HasNext()).
				Msg("Page received")
			return &page, nil

		case EventError:
			var payload ErrorPayload
			decodeErr := json.Unmarshal(evt.Data, &payload)
			if decodeErr != nil {
				s.push.logger.Debug().Err(decodeErr).Str("url", s.seedURL).Msg("Undecodable error event payload")
				decodeErr = fmt.Errorf("decode error payload: %w", decodeErr)
			}
			requestsTotal.WithLabelValues(name, "remote_error").Inc()
			e := newError(name, ErrorClassRemote, s.seedURL, decodeErr)
			e.Message = payload.Message
			return nil, e

		default:
			s.push.logger.Debug().Str("event", evt.Event).Msg("Skipping unknown event")
		}
	}
}

// Close implements Stream. It sends a close frame so the server stops extracting.
func (s *pushStream) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
