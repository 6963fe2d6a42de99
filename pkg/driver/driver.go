// Package driver runs extraction sessions: it pulls pages from a transport
// until the service stops pointing at a next page or the page cap is reached,
// and keeps the address list, the status line and the map in step.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/locmap/pkg/display"
	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/Sternrassler/locmap/pkg/logging"
	"github.com/Sternrassler/locmap/pkg/mapview"
	"github.com/Sternrassler/locmap/pkg/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// MaxPages is the hard cap on page requests per run.
const MaxPages = 10

// Prometheus metrics for extraction runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locmap_runs_total",
		Help: "Total extraction runs by result",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "locmap_run_duration_seconds",
		Help:    "Extraction run duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locmap_pages_total",
		Help: "Total pages received by kind",
	}, []string{"kind"})

	pinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locmap_pins_total",
		Help: "Total pins placed on the map",
	})
)

var (
	// ErrEmptyURL is returned by Submit when no URL was entered.
	ErrEmptyURL = errors.New("no url entered")

	// ErrRunInProgress is returned when a run is started while another one is in flight.
	ErrRunInProgress = errors.New("extraction run already in progress")
)

// View is the user-facing surface updated by the driver.
type View interface {
	SetStatus(status string)

	// SetBusy disables (true) or re-enables (false) the trigger.
	SetBusy(busy bool)

	RenderAddresses(lines []extract.Line)

	// RenderMap is called after pins were added. The first call replaces the placeholder.
	RenderMap(m *mapview.Map)
}

// NopView discards every update.
type NopView struct{}

func (NopView) SetStatus(string) {}

func (NopView) SetBusy(bool) {}

func (NopView) RenderAddresses([]extract.Line) {}

func (NopView) RenderMap(*mapview.Map) {}

// Config holds the driver configuration.
type Config struct {
	// Transport delivers pages (REQUIRED)
	Transport transport.Transport

	// View receives updates; nil discards them
	View View

	// MaxPages caps page requests per run (default and upper bound: MaxPages)
	MaxPages int
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	RunID  string
	Status string
	Lines  []extract.Line
	Pages  int

	// Requests counts pages received, empty ones included
	Requests int
	Pins     int
	Busy     bool
}

// session is the per-run state. It is reset at the start of every run.
type session struct {
	runID    string
	status   string
	lines    display.List
	pages    int
	requests int
}

// Driver is the pagination driver. One run at a time; the map survives across runs.
type Driver struct {
	transport transport.Transport
	view      View
	maxPages  int
	logger    zerolog.Logger

	running atomic.Bool

	mu      sync.Mutex
	session session
	mapView *mapview.Map
}

// New creates a driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max_pages must be >= 0 (got %d)", cfg.MaxPages)
	}

	maxPages := cfg.MaxPages
	if maxPages == 0 || maxPages > MaxPages {
		maxPages = MaxPages
	}

	view := cfg.View
	if view == nil {
		view = NopView{}
	}

	return &Driver{
		transport: cfg.Transport,
		view:      view,
		maxPages:  maxPages,
		logger:    logging.NewLogger("driver"),
	}, nil
}

// InputChanged reports whether the trigger should be enabled for input.
// A non-empty input also clears the status line.
func (d *Driver) InputChanged(input string) bool {
	if strings.TrimSpace(input) == "" {
		return false
	}
	d.setStatus("")
	return !d.running.Load()
}

// Submit validates the user input and starts a run.
// Empty input sets the validation status and makes no transport call.
func (d *Driver) Submit(ctx context.Context, input string) error {
	seedURL := strings.TrimSpace(input)
	if seedURL == "" {
		d.setStatus(display.StatusEmptyURL)
		return ErrEmptyURL
	}
	return d.Run(ctx, seedURL)
}

// Run extracts seedURL and every following page, up to the page cap.
// Every completed run ends with a "Found ..." status.
//
// A transport failure stops the run immediately; everything rendered so far
// stays visible and the returned error wraps the *transport.Error.
func (d *Driver) Run(ctx context.Context, seedURL string) error {
	if !d.running.CompareAndSwap(false, true) {
		runsTotal.WithLabelValues("rejected").Inc()
		return ErrRunInProgress
	}
	defer d.running.Store(false)

	runID := uuid.NewString()
	logger := d.logger.With().
		Str("run_id", runID).
		Str("transport", d.transport.Name()).
		Logger()
	startTime := time.Now()
	defer func() {
		runDuration.Observe(time.Since(startTime).Seconds())
	}()

	d.reset(runID)
	d.view.SetBusy(true)
	defer d.view.SetBusy(false)
	d.setStatus(display.StatusLoading)
	d.view.RenderAddresses(nil)

	logger.Info().Str("url", seedURL).Msg("Extraction started")

	stream, err := d.transport.Open(ctx, seedURL)
	if err != nil {
		return d.fail(logger, seedURL, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			logger.Debug().Err(err).Msg("Stream close error")
		}
	}()

	// pages <= requests, so capping requests also caps pages.
	// The stream decides when the run is over by returning io.EOF.
	more := false
	for d.requests() < d.maxPages {
		if pages := d.pages(); pages > 0 && more {
			d.setStatus(display.Found(d.pins(), pages) + display.StatusNextPage)
		}

		page, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return d.fail(logger, seedURL, err)
		}

		d.handlePage(logger, page)
		more = page.HasNext()

		if d.requests() >= d.maxPages && more {
			logger.Info().Int("max_pages", d.maxPages).Str("next_url", page.NextURL).Msg("Page cap reached")
		}
	}

	snap := d.Snapshot()
	if final := display.Found(snap.Pins, snap.Pages); snap.Status != final {
		d.setStatus(final)
	}

	runsTotal.WithLabelValues("completed").Inc()
	logger.Info().
		Int("pages", snap.Pages).
		Int("requests", snap.Requests).
		Int("pins", snap.Pins).
		Dur("duration", time.Since(startTime)).
		Msg("Extraction complete")

	return nil
}

// handlePage applies one received page to the session.
func (d *Driver) handlePage(logger zerolog.Logger, page *extract.Page) {
	d.mu.Lock()
	d.session.requests++
	if page.Empty() {
		requests := d.session.requests
		d.mu.Unlock()

		pagesTotal.WithLabelValues("empty").Inc()
		logger.Debug().Int("request", requests).Msg("Page without locations")
		return
	}

	d.session.lines.Append(page)
	d.session.pages++
	lines := d.session.lines.Lines()
	pages := d.session.pages
	d.mu.Unlock()

	pagesTotal.WithLabelValues("non_empty").Inc()
	d.view.RenderAddresses(lines)
	d.updateMap(logger, page.Locations, pages)
}

// updateMap adds the page's pins, refits the viewport and reports the totals.
func (d *Driver) updateMap(logger zerolog.Logger, locs []extract.Location, pages int) {
	d.mu.Lock()
	if d.mapView == nil {
		d.mapView = mapview.New()
		logger.Debug().Msg("Map created")
	}
	m := d.mapView
	m.Add(locs)
	pins := m.Len()
	d.mu.Unlock()

	pinsTotal.Add(float64(len(locs)))
	d.setStatus(display.Found(pins, pages))
	d.view.RenderMap(m)

	logger.Debug().Int("page", pages).Int("pins", pins).Msg("Map updated")
}

// fail reports a transport failure. Rendered addresses and pins are kept.
func (d *Driver) fail(logger zerolog.Logger, seedURL string, err error) error {
	d.setStatus(display.StatusFailure)
	runsTotal.WithLabelValues("failed").Inc()

	event := logger.Error().Err(err).Str("url", seedURL).Int("pages", d.pages())
	var terr *transport.Error
	if errors.As(err, &terr) {
		event = event.Str("error_class", string(terr.Class))
	}
	event.Msg("Extraction failed")

	return fmt.Errorf("extract %s: %w", seedURL, err)
}

func (d *Driver) reset(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.session = session{runID: runID}
	if d.mapView != nil {
		d.mapView.Clear()
	}
}

func (d *Driver) setStatus(status string) {
	d.mu.Lock()
	d.session.status = status
	d.mu.Unlock()

	d.view.SetStatus(status)
}

func (d *Driver) pins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mapView == nil {
		return 0
	}
	return d.mapView.Len()
}

func (d *Driver) pages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.pages
}

func (d *Driver) requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.requests
}

// Snapshot returns a copy of the current session state.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{
		RunID:    d.session.runID,
		Status:   d.session.status,
		Lines:    d.session.lines.Lines(),
		Pages:    d.session.pages,
		Requests: d.session.requests,
		Busy:     d.running.Load(),
	}
	if d.mapView != nil {
		snap.Pins = d.mapView.Len()
	}
	return snap
}

// Map returns the map handle, or nil until the first page with locations arrived.
func (d *Driver) Map() *mapview.Map {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapView
}
