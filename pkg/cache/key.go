package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces all page cache keys.
const KeyPrefix = "locmap:page"

// Key identifies a cached extraction page by the page URL it was extracted from.
type Key struct {
	URL string
}

// String generates a deterministic key string.
// Query parameters are sorted and the fragment is dropped, so equivalent URLs share one entry.
//
// Example:
//
//	locmap:page:https://example.com/venues?city=ams&page=2
func (k Key) String() string {
	raw := strings.TrimSpace(k.URL)

	u, err := url.Parse(raw)
	if err != nil {
		return KeyPrefix + ":" + raw
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)

	if q := u.Query(); len(q) > 0 {
		names := make([]string, 0, len(q))
		for name := range q {
			names = append(names, name)
		}
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, name := range names {
			values := append([]string(nil), q[name]...)
			sort.Strings(values)
			for _, v := range values {
				parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	return KeyPrefix + ":" + u.String()
}
