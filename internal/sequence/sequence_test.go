package sequence

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 30, 0, 0, time.UTC)
}

func TestLetterRotation(t *testing.T) {
	epoch := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	l := New(PolicyRotate, epoch)

	cases := []struct {
		day  time.Time
		want string
	}{
		{day(2024, time.January, 1), "A"},
		{day(2024, time.January, 2), "B"},
		{day(2024, time.January, 26), "Z"},
		{day(2024, time.January, 27), "A"},
		{day(2024, time.February, 22), "A"},
		{day(2023, time.December, 31), "Z"},
	}
	for _, tt := range cases {
		if got := l.LetterFor(tt.day); got != tt.want {
			t.Fatalf("LetterFor(%s)=%q, want %q", tt.day.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestLetterFixed(t *testing.T) {
	l := New(PolicyFixed, time.Time{})
	for _, d := range []time.Time{day(2024, time.January, 1), day(2025, time.July, 9)} {
		if got := l.LetterFor(d); got != "A" {
			t.Fatalf("fixed policy returned %q", got)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	l := New("", time.Time{})
	if l.policy != PolicyRotate {
		t.Fatalf("expected rotate default, got %q", l.policy)
	}
	if !l.epoch.Equal(DefaultEpoch) {
		t.Fatalf("expected default epoch")
	}
}

func TestFormatWidens(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{1, "A01"},
		{9, "A09"},
		{99, "A99"},
		{100, "A100"},
		{123, "A123"},
	}
	for _, tt := range cases {
		if got := Format("A", tt.n); got != tt.want {
			t.Fatalf("Format(A, %d)=%q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	letter, n, err := Parse("B07")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if letter != "B" || n != 7 {
		t.Fatalf("got %q %d", letter, n)
	}

	if _, _, err := Parse("B"); err == nil {
		t.Fatalf("expected error for short code")
	}
	if _, _, err := Parse("b07"); err == nil {
		t.Fatalf("expected error for lowercase prefix")
	}
	if _, _, err := Parse("Bxx"); err == nil {
		t.Fatalf("expected error for bad suffix")
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	l := New(PolicyRotate, DefaultEpoch)
	letter := l.LetterFor(day(2024, time.March, 5))
	code := Format(letter, 101)
	gotLetter, gotN, err := Parse(code)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if gotLetter != letter || gotN != 101 {
		t.Fatalf("round trip mismatch: %q %d", gotLetter, gotN)
	}
}
