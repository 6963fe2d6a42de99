// Package transport fetches extraction pages from the extraction service.
//
// Two transports implement the same capability: poll issues one HTTP request
// per page, push opens a WebSocket event channel and lets the server stream
// pages. The driver's loop is written once against Transport and Stream.
package transport

import (
	"context"
	"fmt"

	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locmap_transport_requests_total",
		Help: "Total page requests by transport and status",
	}, []string{"transport", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "locmap_transport_request_duration_seconds",
		Help:    "Time to receive one page by transport",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"transport"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locmap_transport_errors_total",
		Help: "Total transport errors by class",
	}, []string{"class"})
)

// Transport opens page streams on the extraction service.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// Open starts a run for seedURL.
	Open(ctx context.Context, seedURL string) (Stream, error)
}

// Stream yields the pages of one run in arrival order.
type Stream interface {
	// Next blocks until the next page arrives. It returns io.EOF once the
	// stream has nothing more to deliver.
	Next(ctx context.Context) (*extract.Page, error)

	// Close releases the stream. It is safe to call more than once.
	Close() error
}

// ErrorClass represents a classification of transport failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection, timeout and cancellation errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassDecode represents bodies or events that are not a valid page.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassRemote represents error events sent by the push server.
	ErrorClassRemote ErrorClass = "remote"
)

// Error is a failed page fetch.
type Error struct {
	Transport  string
	Class      ErrorClass
	StatusCode int
	URL        string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s transport %s error", e.Transport, e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status to an error class.
func classifyStatus(code int) ErrorClass {
	if code >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}

func newError(transport string, class ErrorClass, pageURL string, err error) *Error {
	errorsTotal.WithLabelValues(string(class)).Inc()
	return &Error{
		Transport: transport,
		Class:     class,
		URL:       pageURL,
		Err:       err,
	}
}
