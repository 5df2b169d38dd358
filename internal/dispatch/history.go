package dispatch

import (
	"sync"
	"time"

	"splitguard/internal/model"
)

// Delivery is one channel send attempt, successful or not.
type Delivery struct {
	AlertID  string              `json:"alert_id"`
	Rule     string              `json:"rule"`
	Channel  string              `json:"channel"`
	Severity model.AlertSeverity `json:"severity"`
	SentAt   time.Time           `json:"sent_at"`
	Success  bool                `json:"success"`
	Error    string              `json:"error,omitempty"`
}

// Stats summarize delivery outcomes over the last 24 hours.
type Stats struct {
	Sent24h     int            `json:"notifications_sent_24h"`
	Failed24h   int            `json:"notifications_failed_24h"`
	ByChannel   map[string]int `json:"by_channel"`
	BySeverity  map[string]int `json:"by_severity"`
	HistorySize int            `json:"history_size"`
}

// History is a bounded rolling record of delivery attempts.
type History struct {
	mu      sync.Mutex
	limit   int
	entries []Delivery
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 10000
	}
	return &History{limit: limit}
}

func (h *History) Record(d Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, d)
	if len(h.entries) > h.limit {
		h.entries = append([]Delivery{}, h.entries[len(h.entries)-h.limit:]...)
	}
}

// Recent returns up to n deliveries, newest first.
func (h *History) Recent(n int) []Delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]Delivery, 0, n)
	for i := len(h.entries) - 1; i >= len(h.entries)-n; i-- {
		out = append(out, h.entries[i])
	}
	return out
}

// StatsAt computes delivery stats for the 24 hours preceding now.
func (h *History) StatsAt(now time.Time) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-24 * time.Hour)
	stats := Stats{
		ByChannel:   make(map[string]int),
		BySeverity:  make(map[string]int),
		HistorySize: len(h.entries),
	}
	for _, d := range h.entries {
		if d.SentAt.Before(cutoff) {
			continue
		}
		if d.Success {
			stats.Sent24h++
			stats.ByChannel[d.Channel]++
			stats.BySeverity[string(d.Severity)]++
		} else {
			stats.Failed24h++
		}
	}
	return stats
}
