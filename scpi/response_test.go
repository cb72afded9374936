package scpi_test

import (
	"errors"
	"testing"

	pkgerrors "github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{name: "scientific notation", raw: "+1.23456789E+00", want: 1.23456789},
		{name: "negative exponent", raw: "-2.5E-03", want: -0.0025},
		{name: "plain decimal", raw: "3.14", want: 3.14},
		{name: "zero", raw: "0", want: 0},
		{name: "trailing terminators", raw: "+4.2E+01\r\n", want: 42},
		{name: "leading whitespace", raw: "  9.9E+37", want: 9.9e37},
		{name: "first field of multi-value reply", raw: "+1.0E+00,+2.0E+00", want: 1},
		{name: "spaces around comma", raw: "+5.0E-01 , +2.0E+00", want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scpi.ParseResponse(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseResponse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseResponseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "terminators only", raw: "\r\n"},
		{name: "instrument error text", raw: "ERROR"},
		{name: "empty first field", raw: ",1.0"},
		{name: "truncated exponent", raw: "+1.0E+"},
		{name: "nan", raw: "NaN"},
		{name: "infinity", raw: "+Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scpi.ParseResponse(tt.raw)
			if err == nil {
				t.Fatal("expected error but got nil")
			}
			if !errors.Is(err, pkgerrors.ErrProtocol) {
				t.Errorf("expected ErrProtocol, got: %v", err)
			}
			if !pkgerrors.IsTransient(err) {
				t.Errorf("expected Transient classification, got: %v", err)
			}
		})
	}
}
