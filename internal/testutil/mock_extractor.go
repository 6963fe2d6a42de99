// Package testutil provides a mock extraction service for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/Sternrassler/locmap/pkg/transport"
	"github.com/gorilla/websocket"
)

// MockPage defines the service behaviour for one page URL.
type MockPage struct {
	StatusCode int
	Page       extract.Page
	// RawBody replaces the JSON encoding of Page when set
	RawBody string
	Headers map[string]string
	Delay   time.Duration
}

// MockExtractor is a configurable extraction service serving both the poll
// endpoint and the push event channel from the same page table.
type MockExtractor struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	pages map[string]MockPage

	// Tracking
	RequestCount   int
	RequestedURLs  []string
	PushSessions   int
	PushEventsSent int
	LastUserAgent  string
}

// NewMockExtractor creates and starts a mock extraction service.
func NewMockExtractor() *MockExtractor {
	mock := &MockExtractor{
		pages: make(map[string]MockPage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(transport.LocationsPath, mock.handleLocations)
	mux.HandleFunc(transport.DefaultEventsPath, mock.handleEvents)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server URL.
func (m *MockExtractor) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockExtractor) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockExtractor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.RequestedURLs = nil
	m.PushSessions = 0
	m.PushEventsSent = 0
	m.LastUserAgent = ""
}

// SetPage configures the response for one page URL.
func (m *MockExtractor) SetPage(pageURL string, page MockPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page.StatusCode == 0 {
		page.StatusCode = http.StatusOK
	}
	m.pages[pageURL] = page
}

// SetChain configures a linked sequence of pages: pages[i] is served for
// urls[i] and points at urls[i+1]. The last page has no next URL.
func (m *MockExtractor) SetChain(urls []string, pages []extract.Page) {
	for i, u := range urls {
		p := pages[i]
		p.NextURL = ""
		if i+1 < len(urls) {
			p.NextURL = urls[i+1]
		}
		m.SetPage(u, MockPage{Page: p})
	}
}

// SetSilentChain is SetChain for the push channel, except that the progress
// events leave nextUrl out: the server keeps pushing but never announces a next page.
func (m *MockExtractor) SetSilentChain(urls []string, pages []extract.Page) {
	for i, u := range urls {
		p := pages[i]
		p.NextURL = ""
		if i+1 < len(urls) {
			p.NextURL = urls[i+1]
		}

		body := pageBody(p)
		delete(body, "nextUrl")
		evt, err := transport.NewEvent(transport.EventProgress, body)
		if err != nil {
			panic(err)
		}
		raw, err := json.Marshal(evt)
		if err != nil {
			panic(err)
		}
		m.SetPage(u, MockPage{Page: p, RawBody: string(raw)})
	}
}

// GetRequestCount returns the number of poll requests served.
func (m *MockExtractor) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequestedURLs returns the page URLs requested through the poll endpoint.
func (m *MockExtractor) GetRequestedURLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.RequestedURLs...)
}

// GetPushSessions returns the number of push channels opened.
func (m *MockExtractor) GetPushSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PushSessions
}

func (m *MockExtractor) lookup(pageURL string) (MockPage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[pageURL]
	return p, ok
}

func (m *MockExtractor) handleLocations(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")

	m.mu.Lock()
	m.RequestCount++
	m.RequestedURLs = append(m.RequestedURLs, pageURL)
	m.LastUserAgent = r.Header.Get("User-Agent")
	m.mu.Unlock()

	page, ok := m.lookup(pageURL)
	if !ok {
		http.Error(w, fmt.Sprintf("no page for %q", pageURL), http.StatusInternalServerError)
		return
	}

	if page.Delay > 0 {
		time.Sleep(page.Delay)
	}

	for key, value := range page.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(page.StatusCode)

	if page.RawBody != "" {
		w.Write([]byte(page.RawBody))
		return
	}
	json.NewEncoder(w).Encode(pageBody(page.Page))
}

// handleEvents serves the push channel: it waits for get_locations, then
// pushes the seed page and every page reachable through nextUrl.
func (m *MockExtractor) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	m.mu.Lock()
	m.PushSessions++
	m.LastUserAgent = r.Header.Get("User-Agent")
	m.mu.Unlock()

	var req transport.Event
	if err := conn.ReadJSON(&req); err != nil || req.Event != transport.EventGetLocations {
		return
	}
	var payload transport.GetLocationsRequest
	if err := json.Unmarshal(req.Data, &payload); err != nil {
		return
	}

	// Drain client frames so a client close stops the push loop.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	next := payload.URL
	for next != "" {
		select {
		case <-clientGone:
			return
		default:
		}

		page, ok := m.lookup(next)
		if !ok || page.StatusCode != http.StatusOK {
			evt, _ := transport.NewEvent(transport.EventError, transport.ErrorPayload{Message: fmt.Sprintf("extraction failed for %q", next)})
			conn.WriteJSON(evt)
			break
		}

		if page.Delay > 0 {
			time.Sleep(page.Delay)
		}

		if page.RawBody != "" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(page.RawBody)); err != nil {
				return
			}
		} else {
			evt, _ := transport.NewEvent(transport.EventProgress, pageBody(page.Page))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}

		m.mu.Lock()
		m.PushEventsSent++
		m.mu.Unlock()

		next = page.Page.NextURL
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	select {
	case <-clientGone:
	case <-time.After(time.Second):
	}
}

// pageBody mirrors the service JSON, including an explicit null nextUrl.
func pageBody(p extract.Page) map[string]any {
	var next any
	if p.NextURL != "" {
		next = p.NextURL
	}
	locations := p.Locations
	if locations == nil {
		locations = []extract.Location{}
	}
	addresses := p.Addresses
	if addresses == nil {
		addresses = []string{}
	}
	return map[string]any{
		"locations": locations,
		"addresses": addresses,
		"nextUrl":   next,
	}
}

// Pages builds n single-location pages with distinct coordinates.
func Pages(n int) []extract.Page {
	pages := make([]extract.Page, n)
	for i := range pages {
		pages[i] = extract.Page{
			Locations: []extract.Location{{
				Title: fmt.Sprintf("Place %d", i+1),
				Lat:   50 + float64(i),
				Lon:   5 + float64(i),
			}},
			Addresses: []string{fmt.Sprintf("Street %d", i+1)},
		}
	}
	return pages
}

// URLs builds n distinct page URLs under base.
func URLs(base string, n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s?page=%d", base, i+1)
	}
	return urls
}
