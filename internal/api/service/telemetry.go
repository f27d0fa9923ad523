package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
	"github.com/kalimotxo/enginewatch/internal/api/store"
)

// DefaultStatsWindow is how many of the most recent readings feed the
// aggregate statistics when the caller does not say otherwise.
const DefaultStatsWindow = 100

// TelemetryService serves the latest message, recent history and
// aggregate stats. The latest slot holds the raw message as decoded off
// the wire, not the persisted row: it is replaced on every ingested
// message, only the ingest goroutine writes it, and request handlers
// read it concurrently.
type TelemetryService struct {
	readings store.Readings

	mu     sync.RWMutex
	latest *domain.RawReading
}

func NewTelemetryService(readings store.Readings) *TelemetryService {
	return &TelemetryService{readings: readings}
}

// Record replaces the latest slot and appends a reading to history.
// The two steps are deliberately not atomic: a message can briefly be
// visible as latest before its row commits, and an insert failure
// leaves the slot updated. Callers treat latest as a live view, not a
// durable record.
func (s *TelemetryService) Record(ctx context.Context, raw domain.RawReading) error {
	s.mu.Lock()
	snapshot := raw
	s.latest = &snapshot
	s.mu.Unlock()

	if _, err := s.readings.Insert(ctx, raw.Reading()); err != nil {
		return fmt.Errorf("persisting reading: %w", err)
	}
	return nil
}

// Latest returns the most recently ingested message verbatim. Before
// the first message arrives there is nothing to return, which is
// ErrNotFound.
func (s *TelemetryService) Latest(ctx context.Context) (domain.RawReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return domain.RawReading{}, store.ErrNotFound
	}
	return *s.latest, nil
}

// History returns up to limit readings, most recent first.
func (s *TelemetryService) History(ctx context.Context, limit int) ([]domain.Reading, error) {
	return s.readings.ListRecent(ctx, limit)
}

// Stats aggregates over the window most recent readings (the default
// window when window <= 0). Temperature and RPM get mean, min and max;
// status counts always carry the three known buckets, zeroed when the
// window holds none of that status. An empty store is ErrNotFound, not
// a zeroed aggregate.
func (s *TelemetryService) Stats(ctx context.Context, window int) (domain.Stats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}

	readings, err := s.readings.ListRecent(ctx, window)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("loading stats window: %w", err)
	}
	if len(readings) == 0 {
		return domain.Stats{}, store.ErrNotFound
	}

	total, err := s.readings.CountAll(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("counting readings: %w", err)
	}

	stats := domain.Stats{
		TotalRecords: len(readings),
		TotalStored:  total,
		StatusCounts: map[string]int{
			domain.StatusRunning: 0,
			domain.StatusWarning: 0,
			domain.StatusError:   0,
		},
	}

	stats.Temperature = rangeStats(readings, func(r domain.Reading) float64 { return r.Temperature })
	stats.RPM = rangeStats(readings, func(r domain.Reading) float64 { return r.RPM })

	for _, r := range readings {
		if _, known := stats.StatusCounts[r.Status]; known {
			stats.StatusCounts[r.Status]++
		}
	}
	return stats, nil
}

func rangeStats(readings []domain.Reading, value func(domain.Reading) float64) domain.RangeStats {
	first := value(readings[0])
	rs := domain.RangeStats{Min: first, Max: first}

	var sum float64
	for _, r := range readings {
		v := value(r)
		sum += v
		if v < rs.Min {
			rs.Min = v
		}
		if v > rs.Max {
			rs.Max = v
		}
	}
	rs.Avg = sum / float64(len(readings))
	return rs
}
