package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/stacklok/integration-sync/internal/models"
)

// cronParser accepts standard 5-field expressions and descriptors such as @hourly and @every 5m
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Timers owns one recurring timer per id
//
//go:generate mockgen -destination=mocks/mock_timers.go -package=mocks github.com/stacklok/integration-sync/internal/sync/scheduler Timers
type Timers interface {
	// Schedule attaches fn to the cron expression, replacing any timer already registered for id
	Schedule(id, expr, timezone string, fn func()) error
	// Cancel removes the timer for id. It is a no-op when none exists.
	Cancel(id string)
	// Has reports whether a timer is registered for id
	Has(id string) bool
	// Start begins firing timers
	Start()
	// Stop stops firing timers and waits for running callbacks to return
	Stop()
}

// ValidateCron checks a cron expression and an optional IANA timezone
func ValidateCron(expr, timezone string) error {
	_, err := parseSchedule(expr, timezone)
	return err
}

func parseSchedule(expr, timezone string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, models.NewValidationError("schedule", "is required")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, models.NewValidationError("schedule", "set the timezone field instead of a TZ prefix")
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, models.NewValidationError("timezone", "unknown timezone %q", timezone)
		}
		expr = fmt.Sprintf("CRON_TZ=%s %s", timezone, expr)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, models.NewValidationError("schedule", "invalid cron expression: %v", err)
	}
	return schedule, nil
}

// cronTimers implements Timers on robfig/cron. Every entry runs on its own goroutine.
type cronTimers struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

var _ Timers = (*cronTimers)(nil)

// NewCronTimers creates Timers backed by robfig/cron. Panics in callbacks are recovered and logged.
func NewCronTimers(logger logr.Logger) Timers {
	return &cronTimers{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		entries: map[string]cron.EntryID{},
	}
}

func (t *cronTimers) Schedule(id, expr, timezone string, fn func()) error {
	schedule, err := parseSchedule(expr, timezone)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[id]; ok {
		t.cron.Remove(existing)
	}
	t.entries[id] = t.cron.Schedule(schedule, cron.FuncJob(fn))
	return nil
}

func (t *cronTimers) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[id]; ok {
		t.cron.Remove(existing)
		delete(t.entries, id)
	}
}

func (t *cronTimers) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

func (t *cronTimers) Start() {
	t.cron.Start()
}

func (t *cronTimers) Stop() {
	<-t.cron.Stop().Done()
}

