// Package display holds the address list model and the status texts shown to the user.
package display

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/locmap/pkg/extract"
)

// Status texts.
const (
	StatusLoading  = "Loading..."
	StatusNextPage = ", loading next page..."
	StatusFailure  = "Something went wrong!"
	StatusEmptyURL = "Please enter a URL!"
)

// List is the ordered address list of one run.
type List struct {
	lines []extract.Line
}

// Append adds the page's lines after the existing ones.
func (l *List) Append(page *extract.Page) {
	l.lines = append(l.lines, page.Lines()...)
}

// Reset empties the list.
func (l *List) Reset() {
	l.lines = nil
}

// Len returns the number of lines.
func (l *List) Len() int {
	return len(l.lines)
}

// Lines returns a copy of the current lines.
func (l *List) Lines() []extract.Line {
	out := make([]extract.Line, len(l.lines))
	copy(out, l.lines)
	return out
}

// Render formats lines as "title: address", one per line.
func Render(lines []extract.Line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}

// Found formats the status after a map update.
// The page count is only mentioned once more than one page was loaded.
func Found(pins, pages int) string {
	status := fmt.Sprintf("Found %d location", pins)
	if pins != 1 {
		status += "s"
	}
	if pages > 1 {
		status += fmt.Sprintf(" on %d pages", pages)
	}
	return status
}
