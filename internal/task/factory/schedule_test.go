package factory

import (
	"testing"
	"time"

	logx "bgjobs/pkg/logx"
)

var noLog = logx.Nop()

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "*/10 * * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "millis", raw: "250ms", kind: SpecInterval, source: "duration", duration: 250 * time.Millisecond},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every: 00:05", kind: SpecInterval, source: "hhmm", duration: 5 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "cron:61 * * * *", "interval:-5s", "00:00", "01:75", "0s"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", raw)
		}
	}
}

func TestNextDelay(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)

	every, _ := ParseSchedule("90s")
	if got := every.NextDelay(now); got != 90*time.Second {
		t.Fatalf("interval NextDelay = %v, want 90s", got)
	}
	fifteen, err := ParseSchedule("*/15 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if got, want := fifteen.NextDelay(now), 7*time.Minute+30*time.Second; got != want {
		t.Fatalf("cron NextDelay = %v, want %v", got, want)
	}
	// A spec built by hand still resolves through the parser.
	manual := ParsedSpec{Kind: SpecCron, Cron: "0 11 * * *"}
	if got, want := manual.NextDelay(now), 52*time.Minute+30*time.Second; got != want {
		t.Fatalf("manual cron NextDelay = %v, want %v", got, want)
	}
	if got := (ParsedSpec{Kind: SpecCron, Cron: "bogus"}).NextDelay(now); got >= 0 {
		t.Fatalf("bogus cron NextDelay = %v, want negative", got)
	}
}

func TestStartupJitterBounds(t *testing.T) {
	t.Parallel()
	if got := StartupJitter(0, "x"); got != 0 {
		t.Fatalf("StartupJitter(0) = %v", got)
	}
	for i := 0; i < 50; i++ {
		if got := StartupJitter(time.Second, "a"); got < 0 || got >= time.Second {
			t.Fatalf("StartupJitter(1s) = %v out of range", got)
		}
		if got := StartupJitter(time.Hour, "b"); got >= maxStartupSpread {
			t.Fatalf("StartupJitter(1h) = %v exceeds cap", got)
		}
	}
}
