package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/Sternrassler/locmap/pkg/display"
	"github.com/Sternrassler/locmap/pkg/extract"
	"github.com/Sternrassler/locmap/pkg/mapview"
)

// terminalView prints status changes as they happen and the address list once per run.
type terminalView struct {
	mu    sync.Mutex
	out   io.Writer
	lines []extract.Line
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out}
}

func (v *terminalView) SetStatus(status string) {
	if status == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "> %s\n", status)
}

func (v *terminalView) SetBusy(bool) {}

func (v *terminalView) RenderAddresses(lines []extract.Line) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = lines
}

// RenderMap is a no-op; pins are exported with --geojson.
func (v *terminalView) RenderMap(*mapview.Map) {}

// PrintAddresses writes the last rendered address list and forgets it.
func (v *terminalView) PrintAddresses() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.lines) == 0 {
		return
	}
	fmt.Fprintln(v.out, display.Render(v.lines))
	v.lines = nil
}
