package timecode

import (
	"math"
	"testing"
)

// TestParseSecondsGrammars checks each accepted input form.
func TestParseSecondsGrammars(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"34.5", 34.5},
		{"34,5", 34.5},
		{"0", 0},
		{"90", 90},
		{"01:30", 90},
		{"1:05", 65},
		{"00:01:30", 90},
		{"01:01:01", 3661},
		{"00:00:10.250", 10.25},
		{"00:10,5", 610.5},
		{" 12 ", 12},
	}

	for _, tc := range cases {
		got, ok := ParseSeconds(tc.in)
		if !ok {
			t.Fatalf("ParseSeconds(%q) not ok", tc.in)
		}
		if math.Abs(got-tc.want) > 0.0005 {
			t.Fatalf("ParseSeconds(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// TestParseSecondsRejectsMalformed checks rejected inputs.
func TestParseSecondsRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"  ",
		"-5",
		"abc",
		"1:2:3:4",
		"00:61:00",
		"00:00:61",
		"12.",
		".5",
		"1:30pm",
	} {
		if _, ok := ParseSeconds(in); ok {
			t.Fatalf("ParseSeconds(%q) accepted, want rejection", in)
		}
	}
}

// TestFormatSeconds checks display formatting and millisecond suffix rules.
func TestFormatSeconds(t *testing.T) {
	cases := []struct {
		in         float64
		withMillis bool
		want       string
	}{
		{0, false, "00:00:00"},
		{90, false, "00:01:30"},
		{3661, false, "01:01:01"},
		{34.5, true, "00:00:34.500"},
		{34.5, false, "00:00:34"},
		{12, true, "00:00:12"},
		{-3, true, "00:00:00"},
		{math.NaN(), true, "00:00:00"},
		{math.Inf(1), false, "00:00:00"},
	}

	for _, tc := range cases {
		if got := FormatSeconds(tc.in, tc.withMillis); got != tc.want {
			t.Fatalf("FormatSeconds(%v, %v) = %q, want %q", tc.in, tc.withMillis, got, tc.want)
		}
	}
}

// TestFormatForEngine checks ffmpeg argument grammar output.
func TestFormatForEngine(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00.000"},
		{90, "00:01:30.000"},
		{34.5, "00:00:34.500"},
		{3661.25, "01:01:01.250"},
		{-1, "00:00:00.000"},
	}

	for _, tc := range cases {
		if got := FormatForEngine(tc.in); got != tc.want {
			t.Fatalf("FormatForEngine(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestFormatParseRoundTrip checks millisecond-exact stability.
func TestFormatParseRoundTrip(t *testing.T) {
	for _, seconds := range []float64{0, 0.001, 1.5, 34.5, 59.999, 61, 3599.25, 3661.125, 86399.999} {
		formatted := FormatSeconds(seconds, true)
		parsed, ok := ParseSeconds(formatted)
		if !ok {
			t.Fatalf("round trip parse failed for %q", formatted)
		}
		if math.Abs(parsed-seconds) > 0.0005 {
			t.Fatalf("round trip %v -> %q -> %v", seconds, formatted, parsed)
		}
		if again := FormatSeconds(parsed, true); again != formatted {
			t.Fatalf("re-format %q != %q", again, formatted)
		}
	}
}
