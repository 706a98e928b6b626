// Package hourwindow does modular arithmetic on local hours of the day.
//
// A Window is half-open: [Start, End). When Start > End the window wraps
// midnight, so {22, 6} covers 22:00 through 05:59. Start == End is the empty
// window.
package hourwindow

import "fmt"

const HoursPerDay = 24

type Window struct {
	Start int
	End   int
}

// New builds a window after normalizing both ends into [0, 24).
func New(start, end int) Window {
	return Window{Start: Normalize(start), End: Normalize(end)}
}

// FromWidth builds the window of the given width starting at start.
func FromWidth(start, width int) Window {
	return New(start, start+width)
}

// Normalize maps any integer hour into [0, 24).
func Normalize(h int) int {
	h %= HoursPerDay
	if h < 0 {
		h += HoursPerDay
	}
	return h
}

// Add returns h shifted by delta hours, modulo a day.
func Add(h, delta int) int {
	return Normalize(h + delta)
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.Start > w.End
}

// Width is the number of hours covered.
func (w Window) Width() int {
	return Normalize(w.End - w.Start)
}

// Contains reports whether the local hour h falls inside the window.
func (w Window) Contains(h int) bool {
	h = Normalize(h)
	if w.Start == w.End {
		return false
	}
	if w.Wraps() {
		return h >= w.Start || h < w.End
	}
	return h >= w.Start && h < w.End
}

// Hours lists every hour in the window in order, starting at Start.
func (w Window) Hours() []int {
	n := w.Width()
	hours := make([]int, 0, n)
	for i := 0; i < n; i++ {
		hours = append(hours, Add(w.Start, i))
	}
	return hours
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:00-%02d:00", w.Start, w.End)
}

// Validate checks that a raw hour is a valid clock hour.
func Validate(h int) error {
	if h < 0 || h >= HoursPerDay {
		return fmt.Errorf("hour %d out of range 0-23", h)
	}
	return nil
}
