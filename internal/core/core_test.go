package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseScale(t *testing.T) {
	tests := []struct {
		in      string
		want    Scale
		wantErr bool
	}{
		{"daily", ScaleDaily, false},
		{" Weekly ", ScaleWeekly, false},
		{"QUARTERLY", ScaleQuarterly, false},
		{"yearly", ScaleYearly, false},
		{"fortnightly", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScale(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownScale) {
					t.Errorf("ParseScale(%q) error = %v, want ErrUnknownScale", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScale(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseScale(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseCategoryFallback(t *testing.T) {
	if got := ParseCategory("Fitness"); got != CategoryFitness {
		t.Errorf("ParseCategory(Fitness) = %v, want fitness", got)
	}
	if got := ParseCategory("underwater basket weaving"); got != CategoryGeneral {
		t.Errorf("ParseCategory(unknown) = %v, want general", got)
	}
}

func TestDayArithmetic(t *testing.T) {
	d := Day{Year: 2024, Month: time.February, Day: 28}

	if got := d.AddDays(1).String(); got != "2024-02-29" {
		t.Errorf("AddDays(1) = %s, want 2024-02-29", got)
	}
	if got := d.AddDays(2).String(); got != "2024-03-01" {
		t.Errorf("AddDays(2) = %s, want 2024-03-01", got)
	}
	if got := d.AddDays(2).Sub(d); got != 2 {
		t.Errorf("Sub = %d, want 2", got)
	}
	if !d.Before(d.AddDays(1)) {
		t.Error("expected d to be before the next day")
	}

	// A day spanning a DST change still counts as one day.
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	before := DayIn(time.Date(2024, 3, 10, 1, 0, 0, 0, ny), ny)
	after := DayIn(time.Date(2024, 3, 11, 1, 0, 0, 0, ny), ny)
	if got := after.Sub(before); got != 1 {
		t.Errorf("Sub across DST = %d, want 1", got)
	}
}

func TestDayJSON(t *testing.T) {
	d := Day{Year: 2025, Month: time.January, Day: 5}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"2025-01-05"` {
		t.Errorf("Marshal = %s", b)
	}

	var back Day
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != d {
		t.Errorf("Unmarshal = %v, want %v", back, d)
	}

	if err := json.Unmarshal([]byte(`"05/01/2025"`), &back); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Unmarshal bad day error = %v, want ErrInvalidInput", err)
	}
}

func TestErrorKinds(t *testing.T) {
	pe := &ParseError{Reason: ReasonEmptyName, Input: "  "}
	if !errors.Is(pe, ErrParseFailure) {
		t.Error("ParseError should match ErrParseFailure")
	}

	de := &DuplicateError{Existing: &CompletionEvent{HabitID: "h1", Day: Day{2025, 1, 1}}}
	if !errors.Is(de, ErrDuplicateCompletion) {
		t.Error("DuplicateError should match ErrDuplicateCompletion")
	}

	if !IsRetryable(errors.Join(ErrPersistence, errors.New("disk I/O error"))) {
		t.Error("persistence failure should be retryable")
	}
	if IsRetryable(de) {
		t.Error("duplicate completion should not be retryable")
	}
}

func TestNameKey(t *testing.T) {
	if got := NameKey("  Morning   Meditation "); got != "morning meditation" {
		t.Errorf("NameKey = %q", got)
	}
}
