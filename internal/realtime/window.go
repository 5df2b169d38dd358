package realtime

import "time"

// Entry is one expense observation inside a sliding window.
type Entry struct {
	Timestamp   time.Time
	UserID      string
	Amount      float64
	Category    string
	Location    string
	Description string
}

// Window is a capacity-bounded sliding window over expense entries. Old
// entries are dropped lazily on Evict; the capacity is the backstop against
// unbounded growth between evictions.
type Window struct {
	capacity int
	entries  []Entry
	head     int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 100
	}
	return &Window{
		capacity: capacity,
		entries:  make([]Entry, 0, 64),
	}
}

func (w *Window) Add(e Entry) {
	w.entries = append(w.entries, e)
	if w.Len() > w.capacity {
		w.head++
	}
	w.maybeCompact()
}

// Evict drops entries older than cutoff.
func (w *Window) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		if !w.entries[w.head].Timestamp.Before(cutoff) {
			break
		}
		w.head++
	}
	w.maybeCompact()
}

func (w *Window) maybeCompact() {
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]Entry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *Window) Len() int {
	return len(w.entries) - w.head
}

// Entries returns the live window slice, oldest first. The slice aliases the
// window's storage and must not be retained across Add calls.
func (w *Window) Entries() []Entry {
	return w.entries[w.head:]
}

// Tail returns up to n of the most recent entries, oldest first.
func (w *Window) Tail(n int) []Entry {
	live := w.Entries()
	if len(live) > n {
		return live[len(live)-n:]
	}
	return live
}

// Oldest returns the earliest live entry.
func (w *Window) Oldest() (Entry, bool) {
	if w.Len() == 0 {
		return Entry{}, false
	}
	return w.entries[w.head], true
}

// TotalAmount sums the live entries' amounts.
func (w *Window) TotalAmount() float64 {
	var total float64
	for _, e := range w.Entries() {
		total += e.Amount
	}
	return total
}

// CountSince counts live entries at or after ts.
func (w *Window) CountSince(ts time.Time) int {
	count := 0
	for _, e := range w.Entries() {
		if !e.Timestamp.Before(ts) {
			count++
		}
	}
	return count
}
