// Package retention removes archived terminal positions from the primary
// store on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Store deletes terminal positions, with their attempts, that closed before
// a cutoff.
type Store interface {
	PruneTerminal(ctx context.Context, before time.Time) (int64, error)
}

// Pruner drops closed and failed positions once they are older than the
// retention window. Positions are archived when they reach a terminal
// state, so by the time they are pruned a copy is in cold storage.
type Pruner struct {
	store         Store
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewPruner creates a new Pruner.
func NewPruner(store Store, retentionDays int, logger *slog.Logger) *Pruner {
	return &Pruner{
		store:         store,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "retention")),
		now:           time.Now,
	}
}

// Run executes a single prune pass.
func (p *Pruner) Run(ctx context.Context) error {
	cutoff := p.now().UTC().Add(-time.Duration(p.retentionDays) * 24 * time.Hour)
	p.logger.Info("starting prune run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", p.retentionDays),
	)

	n, err := p.store.PruneTerminal(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("retention: prune before %v: %w", cutoff, err)
	}
	p.logger.Info("prune run complete", slog.Int64("positions_pruned", n))
	return nil
}

// RunCron runs the pruner on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 * * *" runs at 3:00 AM every day.
func (p *Pruner) RunCron(ctx context.Context, cronExpr string) error {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("retention: parsing cron expression %q: %w", cronExpr, err)
	}
	p.logger.Info("pruner cron started", slog.String("cron", cronExpr))

	for {
		next, err := cron.next(p.now().UTC())
		if err != nil {
			return fmt.Errorf("retention: %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		p.logger.Debug("pruner waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := p.Run(ctx); err != nil {
				p.logger.Error("prune run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single cron field ("0", "*", "1,15") and checks
// each value against [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		v, err := strconv.Atoi(part)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
		}
		if v < lo || v > hi {
			return cronField{}, fmt.Errorf("cron field value %d outside [%d, %d]", v, lo, hi)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type schedule struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (s schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// next returns the first minute strictly after 'after' that matches. It
// searches up to one year ahead.
func (s schedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year")
}

// ValidateCron reports whether expr is a schedule RunCron accepts.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return schedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return schedule{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}
