package timestamp

import (
	"testing"
	"time"
)

// Test constants
var (
	testTime   = time.Date(2025, 3, 10, 9, 15, 30, 500000000, time.UTC)
	testTimeMs = int64(1741598130500)
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMilli()
	ts := Now()
	after := time.Now().UnixMilli()

	if ts < before || ts > after {
		t.Errorf("Now() = %d, expected between %d and %d", ts, before, after)
	}
}

func TestToUnixMs(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected int64
	}{
		{
			name:     "normal time",
			input:    testTime,
			expected: testTimeMs,
		},
		{
			name:     "zero time",
			input:    time.Time{},
			expected: 0,
		},
		{
			name:     "unix epoch",
			input:    time.Unix(0, 0),
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ToUnixMs(tt.input)
			if result != tt.expected {
				t.Errorf("ToUnixMs(%v) = %d, expected %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFromUnixMs(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected time.Time
	}{
		{
			name:     "normal timestamp",
			input:    testTimeMs,
			expected: time.UnixMilli(testTimeMs),
		},
		{
			name:     "zero timestamp",
			input:    0,
			expected: time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FromUnixMs(tt.input)
			if !result.Equal(tt.expected) {
				t.Errorf("FromUnixMs(%d) = %v, expected %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	ts := ToUnixMs(testTime)
	back := FromUnixMs(ts)
	if !back.Equal(testTime) {
		t.Errorf("round trip lost precision: %v != %v", back, testTime)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{
			name:     "normal timestamp",
			input:    testTimeMs,
			expected: "2025-03-10T09:15:30Z",
		},
		{
			name:     "zero timestamp",
			input:    0,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Format(tt.input)
			if result != tt.expected {
				t.Errorf("Format(%d) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIsZero(t *testing.T) {
	if !IsZero(0) {
		t.Error("IsZero(0) should be true")
	}
	if IsZero(testTimeMs) {
		t.Error("IsZero(non-zero) should be false")
	}
}

func TestSince(t *testing.T) {
	if Since(0) != 0 {
		t.Error("Since(0) should be 0")
	}

	past := Now() - 1000
	d := Since(past)
	if d < 900*time.Millisecond || d > 5*time.Second {
		t.Errorf("Since(1s ago) = %v, expected around 1s", d)
	}
}

func TestAdd(t *testing.T) {
	if Add(0, time.Second) != 0 {
		t.Error("Add(0, d) should be 0")
	}
	if got := Add(testTimeMs, time.Second); got != testTimeMs+1000 {
		t.Errorf("Add() = %d, expected %d", got, testTimeMs+1000)
	}
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name     string
		start    int64
		end      int64
		expected time.Duration
	}{
		{"one second", testTimeMs, testTimeMs + 1000, time.Second},
		{"negative", testTimeMs + 1000, testTimeMs, -time.Second},
		{"zero start", 0, testTimeMs, 0},
		{"zero end", testTimeMs, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Between(tt.start, tt.end); got != tt.expected {
				t.Errorf("Between(%d, %d) = %v, expected %v", tt.start, tt.end, got, tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(testTimeMs); err != nil {
		t.Errorf("Validate(valid) returned error: %v", err)
	}
	if err := Validate(-1); err == nil {
		t.Error("Validate(negative) should fail")
	}
	if err := Validate(32503680000001); err == nil {
		t.Error("Validate(year 3000+) should fail")
	}
}
