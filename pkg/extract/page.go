// Package extract defines the records exchanged with the address extraction service.
package extract

import "fmt"

// Location is one geocoded place found on a page.
type Location struct {
	Title string  `json:"title"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Page is one batch of extraction results plus an optional pointer to the next batch.
//
// Addresses is parallel to Locations: Addresses[i] is the human-readable
// address of Locations[i]. The service guarantees equal lengths; it is not checked here.
type Page struct {
	Locations []Location `json:"locations"`
	Addresses []string   `json:"addresses"`
	NextURL   string     `json:"nextUrl,omitempty"`
}

// Empty reports whether the page carried no locations.
func (p *Page) Empty() bool {
	return p == nil || len(p.Locations) == 0
}

// HasNext reports whether the service pointed at a further page.
func (p *Page) HasNext() bool {
	return p != nil && p.NextURL != ""
}

// Lines returns the page's address list records in page order.
// A missing address renders as an empty string.
func (p *Page) Lines() []Line {
	if p.Empty() {
		return nil
	}
	lines := make([]Line, 0, len(p.Locations))
	for i, loc := range p.Locations {
		var addr string
		if i < len(p.Addresses) {
			addr = p.Addresses[i]
		}
		lines = append(lines, Line{Title: loc.Title, Address: addr})
	}
	return lines
}

// Line is one entry of the rendered address list.
type Line struct {
	Title   string
	Address string
}

// String formats the line as "title: address".
func (l Line) String() string {
	return fmt.Sprintf("%s: %s", l.Title, l.Address)
}
