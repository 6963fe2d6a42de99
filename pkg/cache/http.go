package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is the fallback lifetime when the service sends no caching headers
	DefaultTTL = 10 * time.Minute
)

// ResponseToEntry converts an HTTP response to an Entry.
// The response body is restored after reading.
// A nil entry with nil error means the response must not be cached.
func ResponseToEntry(resp *http.Response, defaultTTL time.Duration) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if noStore(resp.Header) {
		return nil, nil
	}

	now := time.Now()
	return &Entry{
		Data:     body,
		Expires:  parseExpires(resp.Header, now, defaultTTL),
		CachedAt: now,
	}, nil
}

// parseExpires derives the expiry from Cache-Control max-age, then Expires,
// then falls back to now + defaultTTL.
func parseExpires(headers http.Header, now time.Time, defaultTTL time.Duration) time.Time {
	for _, directive := range strings.Split(headers.Get("Cache-Control"), ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
			return now.Add(time.Duration(seconds) * time.Second)
		}
	}

	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		expires, err := http.ParseTime(expiresStr)
		if err != nil {
			// Unparseable Expires means already expired (RFC 9111)
			return now
		}
		if expires.Before(now) {
			return now
		}
		return expires
	}

	return now.Add(defaultTTL)
}

func noStore(headers http.Header) bool {
	for _, directive := range strings.Split(headers.Get("Cache-Control"), ",") {
		if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
			return true
		}
	}
	return false
}
