package eventbus

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/guppy/internal/message"
	"github.com/nextlevelbuilder/guppy/internal/tracing"
)

// cronHandle owns the recurring timer for one periodic event file. Each
// fire recomputes the next tick via gronx so the handle self-schedules
// without a background ticker goroutine per file.
type cronHandle struct {
	timer *time.Timer
}

func (c *cronHandle) stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// schedule dispatches name per its parsed event type. modTime is the file's
// on-disk modification time, used for the immediate-staleness check.
func (b *Bus) schedule(name, path string, ev message.GuppyEvent, modTime time.Time) {
	switch ev.Type {
	case message.EventImmediate:
		b.scheduleImmediate(name, path, ev, modTime)
	case message.EventOneShot:
		b.scheduleOneShot(name, path, ev)
	case message.EventPeriodic:
		b.schedulePeriodic(name, path, ev)
	default:
		slog.Warn("eventbus: unknown event type, deleting", "file", name, "type", ev.Type)
		_ = os.Remove(path)
		b.forget(name)
	}
}

// scheduleImmediate dispatches and deletes the file at once, unless its
// mtime predates startTime — a leftover from a previous process run, which
// is discarded without being dispatched.
func (b *Bus) scheduleImmediate(name, path string, ev message.GuppyEvent, modTime time.Time) {
	if modTime.Before(b.startTime) {
		_ = os.Remove(path)
		b.forget(name)
		return
	}
	b.fire(name, path, ev, "immediate", true)
}

// scheduleOneShot resolves the target instant and arms a one-shot timer
// that fires (and deletes the file) at or after that instant. A target
// already in the past fires immediately.
func (b *Bus) scheduleOneShot(name, path string, ev message.GuppyEvent) {
	target, err := resolveOneShot(ev.At, ev.Timezone, b.clock())
	if err != nil {
		slog.Warn("eventbus: one-shot schedule invalid, deleting", "file", name, "error", err)
		_ = os.Remove(path)
		b.forget(name)
		return
	}

	delay := target.Sub(b.clock())
	if delay < 0 {
		delay = 0
	}

	scheduleInfo := ev.At

	b.mu.Lock()
	b.timers[name] = time.AfterFunc(delay, func() {
		b.fire(name, path, ev, scheduleInfo, true)
	})
	b.mu.Unlock()
}

// schedulePeriodic arms a self-rescheduling timer driven by gronx's
// next-tick computation. Invalid cron expressions are rejected up front.
func (b *Bus) schedulePeriodic(name, path string, ev message.GuppyEvent) {
	g := gronx.New()
	if !g.IsValid(ev.Schedule) {
		slog.Warn("eventbus: invalid cron expression, deleting", "file", name, "schedule", ev.Schedule)
		_ = os.Remove(path)
		b.forget(name)
		return
	}

	handle := &cronHandle{}
	b.mu.Lock()
	b.crons[name] = handle
	b.mu.Unlock()

	b.armNextCronTick(name, path, ev, handle)
}

func (b *Bus) armNextCronTick(name, path string, ev message.GuppyEvent, handle *cronHandle) {
	ref, err := cronReferenceTime(ev.Timezone, b.clock())
	if err != nil {
		slog.Warn("eventbus: cron timezone invalid, deleting", "file", name, "timezone", ev.Timezone, "error", err)
		_ = os.Remove(path)
		b.forget(name)
		return
	}

	next, err := gronx.NextTickAfter(ev.Schedule, ref, false)
	if err != nil {
		slog.Warn("eventbus: cron next-tick computation failed, deleting", "file", name, "error", err)
		_ = os.Remove(path)
		b.forget(name)
		return
	}

	delay := next.Sub(b.clock())
	if delay < 0 {
		delay = 0
	}

	handle.timer = time.AfterFunc(delay, func() {
		b.fire(name, path, ev, ev.Schedule, false)
		b.armNextCronTick(name, path, ev, handle)
	})
}

// fire builds the formatted dispatch text and calls the bus's Dispatch
// hook, deleting the event file afterward when deleteAfter is set
// (immediate and one-shot events; periodic events persist).
func (b *Bus) fire(name, path string, ev message.GuppyEvent, scheduleInfo string, deleteAfter bool) {
	text := fmt.Sprintf("[EVENT:%s:%s:%s] %s", name, ev.Type, scheduleInfo, ev.Text)
	ctx, span := tracing.StartEventDispatch(b.ctx, name)
	b.dispatch(ctx, ev.Target, text)
	span.End()
	if deleteAfter {
		_ = os.Remove(path)
		b.forget(name)
	}
}

// cronReferenceTime returns "now" expressed in loc so gronx computes the
// next tick against the correct wall clock. An empty timezone uses the
// process local time as-is.
func cronReferenceTime(timezone string, now time.Time) (time.Time, error) {
	if timezone == "" {
		return now, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("eventbus: load location %q: %w", timezone, err)
	}
	return now.In(loc), nil
}

// oneShotLayouts are tried in order against an "at" string that carries no
// explicit timezone offset of its own.
var oneShotLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// resolveOneShot computes the absolute instant a one-shot event fires at.
//
// With no timezone, "at" is parsed as-is (RFC3339 if it carries a zone
// offset or "Z", otherwise treated as already being in the process's
// local zone).
//
// With a timezone, "at" is a naive wall-clock string with no zone of its
// own; it is parsed directly into that IANA location with
// time.ParseInLocation, which gives the same result as the sv-SE
// format-and-reparse workaround described in spec.md §4.4 without needing
// it: Go's time package already offers a "parse this wall clock in zone X"
// primitive.
func resolveOneShot(at, timezone string, now time.Time) (time.Time, error) {
	if timezone == "" {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			return t, nil
		}
		for _, layout := range oneShotLayouts {
			if t, err := time.ParseInLocation(layout, at, time.Local); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("eventbus: unrecognized one-shot 'at' value %q", at)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("eventbus: load location %q: %w", timezone, err)
	}
	for _, layout := range oneShotLayouts {
		if t, err := time.ParseInLocation(layout, at, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("eventbus: unrecognized one-shot 'at' value %q", at)
}
