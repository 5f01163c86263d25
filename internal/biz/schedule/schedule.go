package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/robfig/cron/v3"
)

// MinInterval is the smallest fixed interval accepted; the scheduler ticks once a minute.
const MinInterval = time.Minute

// maxHops bounds the window search so a window that never opens cannot loop forever.
const maxHops = 1000

// WindowSpec is the stored, user supplied form of an execution window.
// Dates are YYYY-MM-DD and times HH:MM, both interpreted in the schedule's timezone.
type WindowSpec struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func (w WindowSpec) IsZero() bool {
	return w == WindowSpec{}
}

type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	tm, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: tm.Hour(), Minute: tm.Minute()}, nil
}

// Window restricts when slots may fire. Start is inclusive, End exclusive.
// A daily range with From > To spans midnight.
type Window struct {
	Start time.Time
	End   time.Time
	From  *TimeOfDay
	To    *TimeOfDay
}

func (w Window) hasDailyRange() bool { return w.From != nil && w.To != nil }

func (w Window) inDailyRange(t time.Time) bool {
	if !w.hasDailyRange() {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	from, to := w.From.minutes(), w.To.minutes()
	if from <= to {
		return m >= from && m < to
	}
	return m >= from || m < to
}

// nextOpening returns the first instant at or after t (in loc) when the daily range opens.
func (w Window) nextOpening(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	open := time.Date(local.Year(), local.Month(), local.Day(), w.From.Hour, w.From.Minute, 0, 0, loc)
	if open.Before(local) {
		open = time.Date(local.Year(), local.Month(), local.Day()+1, w.From.Hour, w.From.Minute, 0, 0, loc)
	}
	return open
}

// Schedule is the normalized form of an installation's frequency, timezone and window.
// Exactly one of every, days or cron is set.
type Schedule struct {
	Expression string
	Location   *time.Location
	Window     Window
	// Anchor is the slot the grid is aligned to, normally the previous nextRunAt.
	Anchor time.Time

	every time.Duration
	days  int
	cron  cron.Schedule
}

// WithAnchor returns a copy aligned to t.
func (s Schedule) WithAnchor(t time.Time) Schedule {
	s.Anchor = t
	return s
}

func (s Schedule) IsCron() bool { return s.cron != nil }

// Interval reports the fixed period of interval schedules, zero for cron schedules.
func (s Schedule) Interval() time.Duration {
	if s.days > 0 {
		return time.Duration(s.days) * 24 * time.Hour
	}
	return s.every
}

func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), errors.ErrScheduleConfigInvalid)
}

// Parse validates frequency, timezone and window and builds a Schedule.
//
// Accepted frequencies: Go durations ("15m", "24h"), day counts ("1d", "7d"),
// "hourly", "daily", "weekly", cron descriptors ("@daily", "@every 2h") and
// five field cron expressions, optionally prefixed with "cron:".
func Parse(frequency, timezone string, spec WindowSpec) (Schedule, error) {
	var s Schedule

	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return s, invalid("unknown timezone %q", timezone)
		}
		loc = l
	}
	s.Location = loc

	expr := strings.TrimSpace(frequency)
	s.Expression = expr
	lower := strings.ToLower(expr)

	switch {
	case expr == "":
		return s, invalid("frequency is required")
	case lower == "hourly":
		s.every = time.Hour
	case lower == "daily":
		s.days = 1
	case lower == "weekly":
		s.days = 7
	case strings.HasPrefix(lower, "cron:"), strings.HasPrefix(expr, "@"), strings.Count(expr, " ") >= 4:
		cronSpec := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(expr, "cron:"), "CRON:"))
		sched, err := cron.ParseStandard(cronSpec)
		if err != nil {
			return s, invalid("invalid cron expression %q: %v", cronSpec, err)
		}
		s.cron = sched
	case strings.HasSuffix(lower, "d"):
		n, err := strconv.Atoi(strings.TrimSuffix(lower, "d"))
		if err != nil || n <= 0 {
			return s, invalid("invalid frequency %q", expr)
		}
		s.days = n
	default:
		d, err := time.ParseDuration(lower)
		if err != nil {
			return s, invalid("invalid frequency %q", expr)
		}
		if d < MinInterval {
			return s, invalid("frequency %q is shorter than %s", expr, MinInterval)
		}
		if d%(24*time.Hour) == 0 {
			s.days = int(d / (24 * time.Hour))
		} else {
			s.every = d
		}
	}

	w, err := parseWindow(spec, loc)
	if err != nil {
		return s, err
	}
	s.Window = w
	return s, nil
}

func parseWindow(spec WindowSpec, loc *time.Location) (Window, error) {
	var w Window
	if spec.StartDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, spec.StartDate, loc)
		if err != nil {
			return w, invalid("invalid window start_date %q", spec.StartDate)
		}
		w.Start = d
	}
	if spec.EndDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, spec.EndDate, loc)
		if err != nil {
			return w, invalid("invalid window end_date %q", spec.EndDate)
		}
		// end_date is inclusive, the bound is the following midnight
		w.End = d.AddDate(0, 0, 1)
	}
	if !w.Start.IsZero() && !w.End.IsZero() && !w.Start.Before(w.End) {
		return w, invalid("window start_date is after end_date")
	}
	if (spec.From == "") != (spec.To == "") {
		return w, invalid("window needs both from and to")
	}
	if spec.From != "" {
		from, err := ParseTimeOfDay(spec.From)
		if err != nil {
			return w, invalid("invalid window from %q", spec.From)
		}
		to, err := ParseTimeOfDay(spec.To)
		if err != nil {
			return w, invalid("invalid window to %q", spec.To)
		}
		if from == to {
			return w, invalid("window from and to are equal")
		}
		w.From, w.To = &from, &to
	}
	return w, nil
}

// ComputeNextRun returns the first slot strictly after now that falls inside the
// window. A zero time means the schedule has expired.
//
// Interval slots are aligned to s.Anchor, so a stalled caller skips straight to
// the first future slot instead of replaying the missed ones.
func ComputeNextRun(s Schedule, now time.Time) time.Time {
	c := s.slotAfter(now)
	for i := 0; i < maxHops; i++ {
		if c.IsZero() {
			return time.Time{}
		}
		if !s.Window.End.IsZero() && !c.Before(s.Window.End) {
			return time.Time{}
		}
		if !s.Window.Start.IsZero() && c.Before(s.Window.Start) {
			c = s.realign(s.Window.Start)
			continue
		}
		if s.Window.hasDailyRange() && !s.Window.inDailyRange(c.In(s.Location)) {
			c = s.realign(s.Window.nextOpening(c, s.Location))
			continue
		}
		return c
	}
	return time.Time{}
}

// realign moves the grid to start at t. Cron schedules keep their own grid and
// pick the first activation at or after t.
func (s Schedule) realign(t time.Time) time.Time {
	if s.cron != nil {
		return s.cron.Next(t.In(s.Location).Add(-time.Nanosecond))
	}
	return t
}

func (s Schedule) slotAfter(t time.Time) time.Time {
	if s.cron != nil {
		return s.cron.Next(t.In(s.Location))
	}

	anchor := s.Anchor
	if anchor.IsZero() {
		anchor = t.Truncate(time.Minute)
	}
	if anchor.After(t) {
		return anchor
	}

	if s.days > 0 {
		return s.calendarSlotAfter(anchor, t)
	}
	k := t.Sub(anchor)/s.every + 1
	return anchor.Add(k * s.every)
}

// calendarSlotAfter steps whole days in the schedule's timezone so wall clock
// time survives DST changes.
func (s Schedule) calendarSlotAfter(anchor, t time.Time) time.Time {
	local := anchor.In(s.Location)
	period := time.Duration(s.days) * 24 * time.Hour
	k := int(t.Sub(anchor) / period)

	c := local.AddDate(0, 0, k*s.days)
	for k > 0 {
		prev := local.AddDate(0, 0, (k-1)*s.days)
		if !prev.After(t) {
			break
		}
		k--
		c = prev
	}
	for !c.After(t) {
		k++
		c = local.AddDate(0, 0, k*s.days)
	}
	return c
}
