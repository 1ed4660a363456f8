// Package schedule persists trigger-bound playback schedules, tracks their
// execution history, and reconciles them against the OS task scheduler.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/macrokit/macrokit/errors"
)

// TriggerKind discriminates the closed set of trigger rules.
type TriggerKind string

const (
	TriggerOnce          TriggerKind = "once"
	TriggerInterval      TriggerKind = "interval"
	TriggerDaily         TriggerKind = "daily"
	TriggerWeekly        TriggerKind = "weekly"
	TriggerCronLike      TriggerKind = "cron"
	TriggerExternalEvent TriggerKind = "external_event"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger is the rule determining a schedule's next execution time: exactly
// one of a fixed datetime, a repeat interval, a daily or weekly time of day,
// a cron expression, or an external event source. Due-time computation is a
// single exhaustive switch over the kind.
type Trigger struct {
	kind    TriggerKind
	at      time.Time
	every   time.Duration
	weekday time.Weekday
	hour    int
	minute  int
	expr    string
	cronSch cron.Schedule
	source  string
}

// Once triggers exactly one execution at the given time.
func Once(at time.Time) Trigger {
	return Trigger{kind: TriggerOnce, at: at.UTC()}
}

// Interval triggers repeatedly, every period after the last execution.
func Interval(every time.Duration) (Trigger, error) {
	if every <= 0 {
		return Trigger{}, errors.NewValidationf("interval must be positive, got %s", every)
	}
	return Trigger{kind: TriggerInterval, every: every}, nil
}

// Daily triggers at the given UTC time of day.
func Daily(hour, minute int) (Trigger, error) {
	if err := validClock(hour, minute); err != nil {
		return Trigger{}, err
	}
	return Trigger{kind: TriggerDaily, hour: hour, minute: minute}, nil
}

// Weekly triggers on the given weekday at the given UTC time of day.
func Weekly(weekday time.Weekday, hour, minute int) (Trigger, error) {
	if weekday < time.Sunday || weekday > time.Saturday {
		return Trigger{}, errors.NewValidationf("invalid weekday %d", weekday)
	}
	if err := validClock(hour, minute); err != nil {
		return Trigger{}, err
	}
	return Trigger{kind: TriggerWeekly, weekday: weekday, hour: hour, minute: minute}, nil
}

// CronLike triggers per a five-field cron expression, evaluated in UTC.
func CronLike(expr string) (Trigger, error) {
	sch, err := cronParser.Parse(expr)
	if err != nil {
		return Trigger{}, errors.NewValidationf("invalid cron expression %q: %v", expr, err)
	}
	return Trigger{kind: TriggerCronLike, expr: expr, cronSch: sch}, nil
}

// ExternalEvent triggers only when the named external source fires; it never
// computes a due time of its own.
func ExternalEvent(source string) (Trigger, error) {
	if source == "" {
		return Trigger{}, errors.NewValidationf("external event source must not be empty")
	}
	return Trigger{kind: TriggerExternalEvent, source: source}, nil
}

func validClock(hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return errors.NewValidationf("invalid time of day %02d:%02d", hour, minute)
	}
	return nil
}

// Kind returns the trigger's discriminator.
func (t Trigger) Kind() TriggerKind { return t.kind }

// NextAfter computes the next execution time strictly derived from the
// trigger rule relative to after. ok is false when the trigger has no
// computable next time (an exhausted Once or an ExternalEvent).
func (t Trigger) NextAfter(after time.Time) (time.Time, bool) {
	after = after.UTC()
	switch t.kind {
	case TriggerOnce:
		if t.at.After(after) {
			return t.at, true
		}
		return time.Time{}, false
	case TriggerInterval:
		return after.Add(t.every), true
	case TriggerDaily:
		next := time.Date(after.Year(), after.Month(), after.Day(),
			t.hour, t.minute, 0, 0, time.UTC)
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true
	case TriggerWeekly:
		next := time.Date(after.Year(), after.Month(), after.Day(),
			t.hour, t.minute, 0, 0, time.UTC)
		days := (int(t.weekday) - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(after) {
			next = next.AddDate(0, 0, 7)
		}
		return next, true
	case TriggerCronLike:
		// cron reports "no matching time" as the zero time (e.g. a
		// parseable but impossible date like Feb 30).
		next := t.cronSch.Next(after)
		return next, !next.IsZero()
	case TriggerExternalEvent:
		return time.Time{}, false
	}
	return time.Time{}, false
}

// InitialNext computes the first due time for a newly saved schedule. Unlike
// NextAfter, a Once trigger keeps its fixed time even when already past, so a
// back-dated one-shot becomes immediately due instead of never firing.
func (t Trigger) InitialNext(now time.Time) (time.Time, bool) {
	if t.kind == TriggerOnce {
		return t.at, true
	}
	return t.NextAfter(now)
}

// triggerSpec is the persisted JSON payload of a Trigger.
type triggerSpec struct {
	At           *time.Time `json:"at,omitempty"`
	EverySeconds int64      `json:"every_seconds,omitempty"`
	Weekday      *int       `json:"weekday,omitempty"`
	Hour         *int       `json:"hour,omitempty"`
	Minute       *int       `json:"minute,omitempty"`
	Expr         string     `json:"expr,omitempty"`
	Source       string     `json:"source,omitempty"`
}

// EncodeSpec serializes the trigger's payload for storage.
func (t Trigger) EncodeSpec() (string, error) {
	var spec triggerSpec
	switch t.kind {
	case TriggerOnce:
		at := t.at
		spec.At = &at
	case TriggerInterval:
		spec.EverySeconds = int64(t.every / time.Second)
	case TriggerDaily:
		h, m := t.hour, t.minute
		spec.Hour, spec.Minute = &h, &m
	case TriggerWeekly:
		w, h, m := int(t.weekday), t.hour, t.minute
		spec.Weekday, spec.Hour, spec.Minute = &w, &h, &m
	case TriggerCronLike:
		spec.Expr = t.expr
	case TriggerExternalEvent:
		spec.Source = t.source
	default:
		return "", errors.NewValidationf("trigger kind is not set")
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return "", errors.Wrapf(errors.ErrStorage, "encode trigger: %v", err)
	}
	return string(data), nil
}

// DecodeTrigger reconstructs a Trigger from its stored kind and spec payload.
func DecodeTrigger(kind TriggerKind, raw string) (Trigger, error) {
	var spec triggerSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return Trigger{}, errors.Wrapf(errors.ErrStorage, "decode trigger spec: %v", err)
	}

	switch kind {
	case TriggerOnce:
		if spec.At == nil {
			return Trigger{}, errors.NewValidationf("once trigger missing time")
		}
		return Once(*spec.At), nil
	case TriggerInterval:
		return Interval(time.Duration(spec.EverySeconds) * time.Second)
	case TriggerDaily:
		if spec.Hour == nil || spec.Minute == nil {
			return Trigger{}, errors.NewValidationf("daily trigger missing time of day")
		}
		return Daily(*spec.Hour, *spec.Minute)
	case TriggerWeekly:
		if spec.Weekday == nil || spec.Hour == nil || spec.Minute == nil {
			return Trigger{}, errors.NewValidationf("weekly trigger missing fields")
		}
		return Weekly(time.Weekday(*spec.Weekday), *spec.Hour, *spec.Minute)
	case TriggerCronLike:
		return CronLike(spec.Expr)
	case TriggerExternalEvent:
		return ExternalEvent(spec.Source)
	}
	return Trigger{}, errors.NewValidationf("unknown trigger kind %q", kind)
}
