package formguard

import (
	"testing"
	"time"
)

func TestDayKey_DateStringFormat(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC), "submissions_Sat Oct 17 2026"},
		{time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC), "submissions_Thu Jan 01 1970"},
		{time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC), "submissions_Thu Feb 29 2024"},
	}
	fn := DayKey(time.UTC)
	for _, tt := range tests {
		if got := fn(tt.at); got != tt.want {
			t.Errorf("DayKey(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestDayKey_UsesLocation(t *testing.T) {
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2026, time.October, 17, 23, 30, 0, 0, time.UTC)

	if got := DayKey(time.UTC)(at); got != "submissions_Sat Oct 17 2026" {
		t.Errorf("UTC day key = %q", got)
	}
	if got := DayKey(plus2)(at); got != "submissions_Sun Oct 18 2026" {
		t.Errorf("UTC+2 day key = %q, want next day", got)
	}
}

func TestDayKey_NilLocationDefaultsToLocal(t *testing.T) {
	at := time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)
	if DayKey(nil)(at) != DayKey(time.Local)(at) {
		t.Fatal("nil location should behave like time.Local")
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"3", 3, false},
		{" 7 ", 7, false},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"1.5", 0, true},
	}
	for _, tt := range tests {
		got, err := parseCount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCount(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseMillis_RoundTrip(t *testing.T) {
	at := time.Date(2026, time.October, 17, 12, 0, 0, 123_000_000, time.UTC)
	got, err := parseMillis(formatMillis(at))
	if err != nil {
		t.Fatalf("parseMillis: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("round trip = %v, want %v", got, at)
	}
	if _, err := parseMillis("NaN"); err == nil {
		t.Fatal("parseMillis(NaN) should fail")
	}
}

func TestNextMidnight(t *testing.T) {
	at := time.Date(2026, time.December, 31, 18, 0, 0, 0, time.UTC)
	want := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	if got := nextMidnight(at, time.UTC); !got.Equal(want) {
		t.Fatalf("nextMidnight = %v, want %v", got, want)
	}
}
