package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/idilsaglam/muchtodo/internal/api"
	"github.com/idilsaglam/muchtodo/internal/model"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/ui"
)

var errUnhealthy = errors.New("one or more critical services are down")

func (r *runner) health(ctx context.Context, args []string) error {
	fs := newFlags("health", r.Printer.Err())
	watch := fs.Bool("watch", false, "keep checking until interrupted")
	interval := fs.Duration("interval", r.Config.HealthInterval, "time between checks with --watch")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
		return usage("usage: muchtodo health [--watch] [--interval 30s]")
	}
	res := resource.NewHealth(r.deps)

	if !*watch {
		st, err := res.Refresh(ctx)
		if degraded, ok := api.DegradedHealth(err); ok {
			r.Printer.Panel(healthLines(r.Printer.Theme, degraded, time.Now()))
		}
		if err != nil {
			return err
		}
		r.Printer.Panel(healthLines(r.Printer.Theme, st, time.Now()))
		if !st.Healthy() {
			r.notified = true
			return errUnhealthy
		}
		return nil
	}

	poller := resource.NewPoller(res, *interval, func(pr resource.PollResult) {
		if degraded, ok := api.DegradedHealth(pr.Err); ok {
			pr.Status, pr.Err = degraded, nil
		}
		if pr.Err != nil {
			r.Printer.Fail(pr.At.Format(time.TimeOnly) + "  " + resource.Message(pr.Err))
			return
		}
		r.Printer.Println(watchLine(r.Printer.Theme, pr))
	}, resource.WithTicker(r.NewTicker))
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func statusLabel(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(s)
}

func statusStyle(t ui.Theme, s string) string {
	switch s {
	case model.StatusOK:
		return t.Success.Render(statusLabel(s))
	case model.StatusDown:
		return t.Error.Render(statusLabel(s))
	default:
		return t.Muted.Render(statusLabel(s))
	}
}

func healthLines(t ui.Theme, st model.HealthStatus, at time.Time) []string {
	cacheNote := "Cache for username availability checks"
	if st.Cache == model.StatusDisabled {
		cacheNote = "Caching is currently disabled"
	}
	overall := t.Success.Render(t.SymOK + " All critical services are operational")
	if !st.Healthy() {
		overall = t.Error.Render(t.SymFail + " One or more critical services are down")
	}
	return []string{
		t.Title.Render("System Health"),
		"",
		"MongoDB      " + statusStyle(t, st.Database),
		"Redis Cache  " + statusStyle(t, st.Cache),
		t.Muted.Render("             " + cacheNote),
		"",
		overall,
		t.Muted.Render("checked " + at.Format(time.TimeOnly)),
	}
}

func watchLine(t ui.Theme, pr resource.PollResult) string {
	sym := t.Success.Render(t.SymOK)
	if !pr.Status.Healthy() {
		sym = t.Error.Render(t.SymFail)
	}
	return sym + " " + pr.At.Format(time.TimeOnly) +
		"  database " + statusStyle(t, pr.Status.Database) +
		"  cache " + statusStyle(t, pr.Status.Cache)
}
