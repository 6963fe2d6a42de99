package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/locmap/pkg/cache"
	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/Sternrassler/locmap/pkg/logging"
	"github.com/rs/zerolog"
)

// LocationsPath is the poll endpoint of the extraction service.
const LocationsPath = "/get_locations"

// PollConfig configures the poll transport.
type PollConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	// Cache is optional; nil disables page caching
	Cache    *cache.Manager
	CacheTTL time.Duration
}

// Poll requests one page per HTTP round trip.
type Poll struct {
	endpoint   *url.URL
	httpClient *http.Client
	userAgent  string
	cache      *cache.Manager
	cacheTTL   time.Duration
	logger     zerolog.Logger
}

// NewPoll creates a poll transport.
func NewPoll(cfg PollConfig) (*Poll, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	return &Poll{
		endpoint:   base.JoinPath(LocationsPath),
		httpClient: httpClient,
		userAgent:  cfg.UserAgent,
		cache:      cfg.Cache,
		cacheTTL:   ttl,
		logger:     logging.NewLogger("poll-transport"),
	}, nil
}

// Name implements Transport.
func (p *Poll) Name() string { return string(KindPoll) }

// Open implements Transport. No request is made until the first Next.
func (p *Poll) Open(_ context.Context, seedURL string) (Stream, error) {
	return &pollStream{poll: p, next: seedURL}, nil
}

// FetchPage requests the extraction of a single page.
func (p *Poll) FetchPage(ctx context.Context, pageURL string) (*extract.Page, error) {
	key := cache.Key{URL: pageURL}

	if p.cache != nil {
		if page, ok := p.cachedPage(ctx, key); ok {
			return page, nil
		}
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(p.Name()).Observe(time.Since(startTime).Seconds())
	}()

	reqURL := *p.endpoint
	reqURL.RawQuery = url.Values{"url": []string{pageURL}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	p.logger.Debug().Str("url", pageURL).Msg("Requesting page")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(p.Name(), "network_error").Inc()
		p.logger.Error().Err(err).Str("url", pageURL).Msg("Page request failed")
		return nil, newError(p.Name(), ErrorClassNetwork, pageURL, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(p.Name(), strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classifyStatus(resp.StatusCode)
		p.logger.Warn().
			Str("url", pageURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Extraction service error")

		e := newError(p.Name(), class, pageURL, nil)
		e.StatusCode = resp.StatusCode
		e.Message = resp.Status
		return nil, e
	}

	var entry *cache.Entry
	if p.cache != nil {
		entry, err = cache.ResponseToEntry(resp, p.cacheTTL)
		if err != nil {
			return nil, newError(p.Name(), ErrorClassNetwork, pageURL, err)
		}
	}

	page, err := decodePage(resp.Body)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", pageURL).Msg("Undecodable page body")
		return nil, newError(p.Name(), ErrorClassDecode, pageURL, err)
	}

	if entry != nil {
		if err := p.cache.Set(ctx, key, entry); err != nil {
			p.logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to cache page")
		} else {
			p.logger.Debug().Str("url", pageURL).Dur("ttl", entry.TTL()).Msg("Cached page")
		}
	}

	p.logger.Info().
		Str("url", pageURL).
		Int("locations", len(page.Locations)).
		Bool("has_next", page.HasNext()).
		Dur("duration", time.Since(startTime)).
		Msg("Page received")

	return page, nil
}

// cachedPage returns a page from the cache. Cache failures fall through to the service.
func (p *Poll) cachedPage(ctx context.Context, key cache.Key) (*extract.Page, bool) {
	entry, err := p.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn().Err(err).Str("url", key.URL).Msg("Cache get error")
		}
		return nil, false
	}

	page, err := decodePage(bytes.NewReader(entry.Data))
	if err != nil {
		p.logger.Warn().Err(err).Str("url", key.URL).Msg("Dropping undecodable cached page")
		_ = p.cache.Delete(ctx, key)
		return nil, false
	}

	requestsTotal.WithLabelValues(p.Name(), "cached").Inc()
	p.logger.Debug().Str("url", key.URL).Msg("Page served from cache")
	return page, true
}

func decodePage(r io.Reader) (*extract.Page, error) {
	var page extract.Page
	dec := json.NewDecoder(r)
	if err := dec.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	page.NextURL = strings.TrimSpace(page.NextURL)
	return &page, nil
}

// pollStream follows nextUrl pointers, one request per Next.
type pollStream struct {
	poll *Poll
	next string
}

// Next implements Stream.
func (s *pollStream) Next(ctx context.Context) (*extract.Page, error) {
	if s.next == "" {
		return nil, io.EOF
	}

	page, err := s.poll.FetchPage(ctx, s.next)
	if err != nil {
		s.next = ""
		return nil, err
	}

	s.next = page.NextURL
	return page, nil
}

// Close implements Stream.
func (s *pollStream) Close() error {
	s.next = ""
	return nil
}
