package templates

import (
	"errors"
	"testing"
	"time"

	"github.com/quantumlife/habits/internal/cadence"
	"github.com/quantumlife/habits/internal/core"
)

func intp(v int) *int { return &v }

func TestResolveDefaults(t *testing.T) {
	r := NewResolver(DefaultConfig())

	tests := []struct {
		scale       core.Scale
		wantCadence string
		wantReward  int
	}{
		{core.ScaleDaily, "0 9 * * *", 15},
		{core.ScaleWeekly, "0 9 * * 0", 30},
		{core.ScaleMonthly, "0 9 1 * *", 50},
		{core.ScaleQuarterly, "0 9 1 1,4,7,10 *", 80},
		{core.ScaleYearly, "0 9 1 1 *", 101},
	}

	for _, tt := range tests {
		t.Run(string(tt.scale), func(t *testing.T) {
			d, err := r.Resolve(tt.scale, "Review budget", "look at spending", Overrides{})
			if err != nil {
				t.Fatalf("Resolve error = %v", err)
			}
			if d.Cadence != tt.wantCadence {
				t.Errorf("Cadence = %q, want %q", d.Cadence, tt.wantCadence)
			}
			if d.BaseReward != tt.wantReward {
				t.Errorf("BaseReward = %d, want %d", d.BaseReward, tt.wantReward)
			}
			if d.Scale != tt.scale {
				t.Errorf("Scale = %v, want %v", d.Scale, tt.scale)
			}
			if err := cadence.Validate(d.Cadence); err != nil {
				t.Errorf("cadence does not parse: %v", err)
			}
		})
	}
}

func TestResolveWeeklyOverride(t *testing.T) {
	r := NewResolver(DefaultConfig())
	d, err := r.Resolve(core.ScaleWeekly, "Plan week", "", Overrides{Hour: intp(18), Weekday: intp(5)})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if d.Cadence != "0 18 * * 5" {
		t.Fatalf("Cadence = %q", d.Cadence)
	}

	// Every fire lands on a Friday at 18:00.
	e := cadence.MustParse(d.Cadence)
	fires := e.Between(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 0)
	if len(fires) == 0 {
		t.Fatal("no fires in two months")
	}
	for _, f := range fires {
		if f.Weekday() != time.Friday || f.Hour() != 18 || f.Minute() != 0 {
			t.Errorf("fire %v is not Friday 18:00", f)
		}
	}
}

func TestResolveQuarterlyFiresInQuarterMonths(t *testing.T) {
	r := NewResolver(DefaultConfig())
	d, err := r.Resolve(core.ScaleQuarterly, "Quarterly review", "", Overrides{DayOfMonth: intp(15)})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	e := cadence.MustParse(d.Cadence)
	fires := e.Between(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	if len(fires) != 4 {
		t.Fatalf("fires = %d, want 4", len(fires))
	}
	for _, f := range fires {
		switch f.Month() {
		case time.January, time.April, time.July, time.October:
		default:
			t.Errorf("fire in %v", f.Month())
		}
		if f.Day() != 15 {
			t.Errorf("fire on day %d, want 15", f.Day())
		}
	}
}

func TestResolveRejects(t *testing.T) {
	r := NewResolver(DefaultConfig())

	tests := []struct {
		name  string
		scale core.Scale
		ov    Overrides
		want  error
	}{
		{"unknown scale", core.Scale("hourly"), Overrides{}, core.ErrUnknownScale},
		{"hour 25", core.ScaleDaily, Overrides{Hour: intp(25)}, core.ErrInvalidOverride},
		{"weekday 7", core.ScaleWeekly, Overrides{Weekday: intp(7)}, core.ErrInvalidOverride},
		{"day 32", core.ScaleMonthly, Overrides{DayOfMonth: intp(32)}, core.ErrInvalidOverride},
		{"month 0", core.ScaleYearly, Overrides{Month: intp(0)}, core.ErrInvalidOverride},
		{"negative reward", core.ScaleDaily, Overrides{BaseReward: intp(-3)}, core.ErrInvalidOverride},
		{"february 30", core.ScaleYearly, Overrides{DayOfMonth: intp(30), Month: intp(2)}, core.ErrInvalidOverride},
		{"june 31", core.ScaleYearly, Overrides{DayOfMonth: intp(31), Month: intp(6)}, core.ErrInvalidOverride},
		{"quarterly day 31", core.ScaleQuarterly, Overrides{DayOfMonth: intp(31)}, core.ErrInvalidOverride},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.scale, "x", "", tt.ov)
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveCalendarEdges(t *testing.T) {
	r := NewResolver(DefaultConfig())

	tests := []struct {
		name  string
		scale core.Scale
		ov    Overrides
		want  string
	}{
		{"leap day", core.ScaleYearly, Overrides{DayOfMonth: intp(29), Month: intp(2)}, "0 9 29 2 *"},
		{"december 31", core.ScaleYearly, Overrides{DayOfMonth: intp(31), Month: intp(12)}, "0 9 31 12 *"},
		{"quarterly day 30", core.ScaleQuarterly, Overrides{DayOfMonth: intp(30)}, "0 9 30 1,4,7,10 *"},
		{"monthly day 31", core.ScaleMonthly, Overrides{DayOfMonth: intp(31)}, "0 9 31 * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Resolve(tt.scale, "x", "", tt.ov)
			if err != nil {
				t.Fatalf("Resolve error = %v", err)
			}
			if d.Cadence != tt.want {
				t.Errorf("Cadence = %q, want %q", d.Cadence, tt.want)
			}
		})
	}
}

func TestResolveBaseRewardOverride(t *testing.T) {
	r := NewResolver(DefaultConfig())
	d, err := r.Resolve(core.ScaleWeekly, "Long run", "", Overrides{BaseReward: intp(20)})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if d.BaseReward != 40 {
		t.Errorf("BaseReward = %d, want 40", d.BaseReward)
	}
}

func TestTemplatesListsEveryScale(t *testing.T) {
	got := NewResolver(DefaultConfig()).Templates()
	if len(got) != len(core.Scales()) {
		t.Fatalf("Templates() = %d entries, want %d", len(got), len(core.Scales()))
	}
	for i, s := range core.Scales() {
		if got[i].Scale != s {
			t.Errorf("Templates()[%d].Scale = %v, want %v", i, got[i].Scale, s)
		}
	}
}

func TestScaleReward(t *testing.T) {
	tests := []struct {
		base int
		mult float64
		want int
	}{
		{15, 1.0, 15},
		{15, 3.3, 50},
		{15, 5.3, 80},
		{10, 2.0, 20},
		{7, 3.3, 23},
	}
	for _, tt := range tests {
		if got := ScaleReward(tt.base, tt.mult); got != tt.want {
			t.Errorf("ScaleReward(%d, %v) = %d, want %d", tt.base, tt.mult, got, tt.want)
		}
	}
}
