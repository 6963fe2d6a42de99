package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/locmap/pkg/display"
	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/Sternrassler/locmap/pkg/mapview"
	"github.com/Sternrassler/locmap/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted Next result.
type step struct {
	page *extract.Page
	err  error
}

// fakeTransport replays a script per seed URL and counts Next calls.
type fakeTransport struct {
	mu      sync.Mutex
	scripts map[string][]step
	opened  int
	calls   int
	closed  int

	// gate, when set, blocks every Next until closed
	gate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{scripts: make(map[string][]step)}
}

func (f *fakeTransport) script(seed string, steps ...step) {
	f.scripts[seed] = steps
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Open(_ context.Context, seed string) (transport.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return &fakeStream{t: f, steps: f.scripts[seed]}, nil
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStream struct {
	t     *fakeTransport
	steps []step
}

func (s *fakeStream) Next(ctx context.Context) (*extract.Page, error) {
	if s.t.gate != nil {
		select {
		case <-s.t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	s.t.calls++
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.page, st.err
}

func (s *fakeStream) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.closed++
	return nil
}

// recordingView keeps every update for assertions.
type recordingView struct {
	mu         sync.Mutex
	statuses   []string
	busy       []bool
	lines      []extract.Line
	mapRenders int
	lastMap    *mapview.Map
}

func (v *recordingView) SetStatus(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, s)
}

func (v *recordingView) SetBusy(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.busy = append(v.busy, b)
}

func (v *recordingView) RenderAddresses(lines []extract.Line) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = lines
}

func (v *recordingView) RenderMap(m *mapview.Map) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mapRenders++
	v.lastMap = m
}

func (v *recordingView) lastStatus() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1]
}

// page builds a page with n locations titled prefix-1..prefix-n.
func page(prefix string, n int, next string) *extract.Page {
	p := &extract.Page{NextURL: next}
	for i := 1; i <= n; i++ {
		p.Locations = append(p.Locations, extract.Location{
			Title: fmt.Sprintf("%s-%d", prefix, i),
			Lat:   float64(i),
			Lon:   float64(i) * 2,
		})
		p.Addresses = append(p.Addresses, fmt.Sprintf("%s street %d", prefix, i))
	}
	return p
}

func newTestDriver(t *testing.T, tr transport.Transport) (*Driver, *recordingView) {
	t.Helper()
	view := &recordingView{}
	d, err := New(Config{Transport: tr, View: view})
	require.NoError(t, err)
	return d, view
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
		maxPages int
	}{
		{
			name:     "missing transport",
			config:   Config{},
			errorMsg: "transport is required",
		},
		{
			name:     "negative max pages",
			config:   Config{Transport: newFakeTransport(), MaxPages: -1},
			errorMsg: "max_pages must be >= 0 (got -1)",
		},
		{
			name:     "default max pages",
			config:   Config{Transport: newFakeTransport()},
			maxPages: MaxPages,
		},
		{
			name:     "lower max pages",
			config:   Config{Transport: newFakeTransport(), MaxPages: 3},
			maxPages: 3,
		},
		{
			name:     "max pages above hard cap",
			config:   Config{Transport: newFakeTransport(), MaxPages: 50},
			maxPages: MaxPages,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.config)
			if tt.errorMsg != "" {
				require.EqualError(t, err, tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.maxPages, d.maxPages)
		})
	}
}

func TestSubmit_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   "} {
		tr := newFakeTransport()
		d, view := newTestDriver(t, tr)

		err := d.Submit(context.Background(), input)

		assert.ErrorIs(t, err, ErrEmptyURL)
		assert.Equal(t, display.StatusEmptyURL, view.lastStatus())
		assert.Equal(t, 0, tr.opened)
		assert.Equal(t, 0, tr.Calls())
		assert.Empty(t, view.busy)
	}
}

func TestRun_PageCap(t *testing.T) {
	tr := newFakeTransport()
	var steps []step
	for i := 1; i <= 15; i++ {
		steps = append(steps, step{page: page(fmt.Sprintf("p%d", i), 1, fmt.Sprintf("https://example.com/?page=%d", i+1))})
	}
	tr.script("https://example.com/", steps...)

	d, view := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "https://example.com/"))

	assert.Equal(t, MaxPages, tr.Calls())
	snap := d.Snapshot()
	assert.Equal(t, 10, snap.Pages)
	assert.Equal(t, 10, snap.Pins)
	assert.Equal(t, "Found 10 locations on 10 pages", view.lastStatus())
	assert.Equal(t, 1, tr.closed)
}

func TestRun_EmptyPagesCountTowardsRequestCap(t *testing.T) {
	tr := newFakeTransport()
	var steps []step
	for i := 1; i <= 12; i++ {
		steps = append(steps, step{page: page("empty", 0, fmt.Sprintf("https://example.com/?page=%d", i+1))})
	}
	tr.script("https://example.com/", steps...)

	d, view := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "https://example.com/"))

	assert.Equal(t, MaxPages, tr.Calls())
	assert.Equal(t, 0, d.Snapshot().Pages)
	assert.Nil(t, d.Map(), "map must not be created without locations")
	assert.Equal(t, 0, view.mapRenders)
	assert.Equal(t, "Found 0 locations", view.lastStatus())
}

func TestRun_LinesConcatenateInArrivalOrder(t *testing.T) {
	tr := newFakeTransport()
	tr.script("seed",
		step{page: page("a", 2, "n2")},
		step{page: page("b", 1, "n3")},
		step{page: page("c", 3, "")},
	)

	d, view := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "seed"))

	want := "a-1: a street 1\na-2: a street 2\nb-1: b street 1\nc-1: c street 1\nc-2: c street 2\nc-3: c street 3"
	assert.Equal(t, want, display.Render(view.lines))
	assert.Equal(t, want, display.Render(d.Snapshot().Lines))
	assert.Equal(t, 3, tr.Calls())
}

func TestRun_EmptyPagesDoNotCountAsPages(t *testing.T) {
	tr := newFakeTransport()
	tr.script("seed",
		step{page: page("a", 2, "n2")},
		step{page: page("x", 0, "n3")},
		step{page: page("b", 1, "n4")},
		step{page: page("y", 0, "n5")},
		step{page: page("c", 1, "")},
	)

	d, view := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "seed"))

	snap := d.Snapshot()
	assert.Equal(t, 3, snap.Pages)
	assert.Equal(t, 5, snap.Requests)
	assert.Equal(t, 4, snap.Pins)
	assert.Equal(t, "Found 4 locations on 3 pages", view.lastStatus())
	assert.Equal(t, 3, view.mapRenders)
}

func TestRun_EndsOnEmptyPage(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
		calls int
		want  string
	}{
		{
			name:  "last page empty",
			steps: []step{{page: page("a", 1, "n2")}, {page: page("x", 0, "")}},
			calls: 2,
			want:  "Found 1 location",
		},
		{
			name:  "empty pages until the cap",
			steps: append([]step{{page: page("a", 2, "n")}}, emptySteps(12)...),
			calls: MaxPages,
			want:  "Found 2 locations",
		},
		{
			name:  "two pages then empty",
			steps: []step{{page: page("a", 1, "n2")}, {page: page("b", 1, "n3")}, {page: page("x", 0, "")}},
			calls: 3,
			want:  "Found 2 locations on 2 pages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			tr.script("seed", tt.steps...)
			d, view := newTestDriver(t, tr)

			require.NoError(t, d.Run(context.Background(), "seed"))

			assert.Equal(t, tt.calls, tr.Calls())
			assert.Equal(t, tt.want, view.lastStatus())
			assert.Equal(t, tt.want, d.Snapshot().Status)
			assert.False(t, d.Snapshot().Busy)
			for _, s := range view.statuses {
				assert.LessOrEqual(t, strings.Count(s, display.StatusNextPage), 1, "status %q", s)
			}
		})
	}
}

// emptySteps returns n empty pages that all point at a next page.
func emptySteps(n int) []step {
	steps := make([]step, n)
	for i := range steps {
		steps[i] = step{page: page("empty", 0, fmt.Sprintf("e%d", i+1))}
	}
	return steps
}

func TestRun_PagesWithoutNextURLKeepStreaming(t *testing.T) {
	tr := newFakeTransport()
	tr.script("seed",
		step{page: page("a", 1, "")},
		step{page: page("b", 1, "")},
		step{page: page("c", 1, "")},
	)

	d, view := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "seed"))

	assert.Equal(t, 3, tr.Calls())
	assert.Equal(t, 3, d.Snapshot().Pages)
	assert.Equal(t, "Found 3 locations on 3 pages", view.lastStatus())
}

func TestRun_StatusPhrasing(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
		want  string
	}{
		{
			name:  "single location",
			steps: []step{{page: page("a", 1, "")}},
			want:  "Found 1 location",
		},
		{
			name:  "several locations one page",
			steps: []step{{page: page("a", 3, "")}},
			want:  "Found 3 locations",
		},
		{
			name:  "one location after an empty page",
			steps: []step{{page: page("x", 0, "n")}, {page: page("a", 1, "")}},
			want:  "Found 1 location",
		},
		{
			name:  "two pages",
			steps: []step{{page: page("a", 1, "n")}, {page: page("b", 1, "")}},
			want:  "Found 2 locations on 2 pages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			tr.script("seed", tt.steps...)
			d, view := newTestDriver(t, tr)

			require.NoError(t, d.Run(context.Background(), "seed"))
			assert.Equal(t, tt.want, view.lastStatus())
		})
	}
}

func TestRun_StatusSequence(t *testing.T) {
	tr := newFakeTransport()
	tr.script("seed",
		step{page: page("a", 2, "n2")},
		step{page: page("b", 1, "")},
	)

	d, view := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "seed"))

	assert.Equal(t, []string{
		display.StatusLoading,
		"Found 2 locations",
		"Found 2 locations" + display.StatusNextPage,
		"Found 3 locations on 2 pages",
	}, view.statuses)
	assert.Equal(t, []bool{true, false}, view.busy)
}

func TestRun_TransportErrorKeepsEarlierPages(t *testing.T) {
	tr := newFakeTransport()
	terr := &transport.Error{Transport: "fake", Class: transport.ErrorClassServer, StatusCode: 500}
	tr.script("seed",
		step{page: page("a", 2, "n2")},
		step{err: terr},
		step{page: page("never", 1, "")},
	)

	d, view := newTestDriver(t, tr)
	err := d.Run(context.Background(), "seed")

	require.Error(t, err)
	var got *transport.Error
	require.ErrorAs(t, err, &got)
	assert.Equal(t, transport.ErrorClassServer, got.Class)

	assert.Equal(t, 2, tr.Calls(), "no request after the failure")
	assert.Equal(t, display.StatusFailure, view.lastStatus())
	assert.Equal(t, "a-1: a street 1\na-2: a street 2", display.Render(view.lines))
	require.NotNil(t, d.Map())
	assert.Equal(t, 2, d.Map().Len())
	assert.Equal(t, []bool{true, false}, view.busy)
	assert.False(t, d.Snapshot().Busy)
}

func TestRun_ConsecutiveRunsDoNotLeak(t *testing.T) {
	tr := newFakeTransport()
	tr.script("first", step{page: page("first", 3, "")})
	tr.script("second", step{page: page("second", 1, "")})

	d, view := newTestDriver(t, tr)

	require.NoError(t, d.Run(context.Background(), "first"))
	firstMap := d.Map()
	require.NotNil(t, firstMap)
	firstRun := d.Snapshot().RunID

	require.NoError(t, d.Run(context.Background(), "second"))

	snap := d.Snapshot()
	assert.NotEqual(t, firstRun, snap.RunID)
	assert.Equal(t, "second-1: second street 1", display.Render(snap.Lines))
	assert.Equal(t, "second-1: second street 1", display.Render(view.lines))
	assert.Equal(t, 1, snap.Pins)
	assert.Equal(t, 1, snap.Pages)
	assert.Same(t, firstMap, d.Map(), "map handle is reused across runs")

	pins := d.Map().Pins()
	require.Len(t, pins, 1)
	assert.Equal(t, "second-1", pins[0].Title)
}

func TestRun_ClearsAddressesBeforeFirstPage(t *testing.T) {
	tr := newFakeTransport()
	tr.script("first", step{page: page("first", 2, "")})
	tr.script("failing", step{err: errors.New("connection reset")})

	d, view := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "first"))
	require.Error(t, d.Run(context.Background(), "failing"))

	assert.Empty(t, view.lines)
	assert.Empty(t, d.Snapshot().Lines)
	assert.Equal(t, 0, d.Snapshot().Pins)
}

func TestRun_ViewportFitsAllPinsOfRun(t *testing.T) {
	tr := newFakeTransport()
	tr.script("seed",
		step{page: &extract.Page{
			Locations: []extract.Location{{Title: "north", Lat: 60, Lon: 10}},
			Addresses: []string{"n"},
			NextURL:   "n2",
		}},
		step{page: &extract.Page{
			Locations: []extract.Location{{Title: "south", Lat: 40, Lon: -3}},
			Addresses: []string{"s"},
		}},
	)

	d, _ := newTestDriver(t, tr)
	require.NoError(t, d.Run(context.Background(), "seed"))

	v, ok := d.Map().Viewport()
	require.True(t, ok)
	assert.InDelta(t, 40, v.MinLat, 1e-9)
	assert.InDelta(t, 60, v.MaxLat, 1e-9)
	assert.InDelta(t, -3, v.MinLon, 1e-9)
	assert.InDelta(t, 10, v.MaxLon, 1e-9)
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	tr.script("slow", step{page: page("a", 1, "")})

	d, view := newTestDriver(t, tr)

	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background(), "slow")
	}()

	require.Eventually(t, func() bool { return d.Snapshot().Busy }, time.Second, 5*time.Millisecond)
	assert.False(t, d.InputChanged("https://example.com"), "trigger stays disabled during a run")

	err := d.Run(context.Background(), "other")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(tr.gate)
	require.NoError(t, <-done)

	assert.Equal(t, 1, tr.opened)
	assert.Equal(t, "Found 1 location", view.lastStatus())
	assert.True(t, d.InputChanged("https://example.com"))
}

func TestRun_ContextCancelled(t *testing.T) {
	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	tr.script("seed", step{page: page("a", 1, "")})

	d, view := newTestDriver(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, "seed")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, display.StatusFailure, view.lastStatus())
}

func TestInputChanged(t *testing.T) {
	tr := newFakeTransport()
	d, view := newTestDriver(t, tr)

	require.ErrorIs(t, d.Submit(context.Background(), ""), ErrEmptyURL)
	assert.False(t, d.InputChanged(""))
	assert.Equal(t, display.StatusEmptyURL, view.lastStatus(), "empty input keeps the message")

	assert.True(t, d.InputChanged("h"))
	assert.Equal(t, "", view.lastStatus())
}
