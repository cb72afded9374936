package scpi_test

import (
	"errors"
	"testing"

	pkgerrors "github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

func TestBuildSequence(t *testing.T) {
	tests := []struct {
		name     string
		fn       scpi.Function
		wantConf string
		wantQry  string
	}{
		{name: "dc voltage", fn: scpi.DCVoltage, wantConf: "CONF:VOLT:DC", wantQry: "MEAS:VOLT:DC?"},
		{name: "ac voltage", fn: scpi.ACVoltage, wantConf: "CONF:VOLT:AC", wantQry: "MEAS:VOLT:AC?"},
		{name: "dc current", fn: scpi.DCCurrent, wantConf: "CONF:CURR:DC", wantQry: "MEAS:CURR:DC?"},
		{name: "ac current", fn: scpi.ACCurrent, wantConf: "CONF:CURR:AC", wantQry: "MEAS:CURR:AC?"},
		{name: "2-wire resistance", fn: scpi.Resistance2W, wantConf: "CONF:RES", wantQry: "MEAS:RES?"},
		{name: "4-wire resistance", fn: scpi.Resistance4W, wantConf: "CONF:FRES", wantQry: "MEAS:FRES?"},
		{name: "frequency", fn: scpi.Frequency, wantConf: "CONF:FREQ", wantQry: "MEAS:FREQ?"},
		{name: "temperature", fn: scpi.Temperature, wantConf: "CONF:TEMP", wantQry: "MEAS:TEMP?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := scpi.BuildSequence(tt.fn)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(seq.Config) != 1 || seq.Config[0] != tt.wantConf {
				t.Errorf("Config = %v, want [%q]", seq.Config, tt.wantConf)
			}
			if seq.Query != tt.wantQry {
				t.Errorf("Query = %q, want %q", seq.Query, tt.wantQry)
			}
		})
	}
}

func TestBuildSequenceUnsupported(t *testing.T) {
	_, err := scpi.BuildSequence(scpi.Function("watts"))
	if err == nil {
		t.Fatal("expected error for unknown function")
	}
	if !errors.Is(err, pkgerrors.ErrUnsupportedFunction) {
		t.Errorf("expected ErrUnsupportedFunction, got: %v", err)
	}
	if !pkgerrors.IsInvalid(err) {
		t.Errorf("expected Invalid classification, got: %v", err)
	}
}

func TestBuildSequenceWithRange(t *testing.T) {
	tests := []struct {
		name     string
		fn       scpi.Function
		rng      string
		wantConf string
	}{
		{name: "auto range", fn: scpi.DCVoltage, rng: "AUTO", wantConf: "CONF:VOLT:DC AUTO"},
		{name: "numeric range", fn: scpi.DCVoltage, rng: "10", wantConf: "CONF:VOLT:DC 10"},
		{name: "empty range uses instrument default", fn: scpi.DCVoltage, rng: "", wantConf: "CONF:VOLT:DC"},
		{name: "named range uppercased", fn: scpi.Resistance2W, rng: "1k", wantConf: "CONF:RES 1K"},
		{name: "transducer type", fn: scpi.Temperature, rng: "rtd", wantConf: "CONF:TEMP RTD"},
		{name: "whitespace trimmed", fn: scpi.ACVoltage, rng: "  0.1  ", wantConf: "CONF:VOLT:AC 0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := scpi.BuildSequenceWithRange(tt.fn, tt.rng)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(seq.Config) != 1 || seq.Config[0] != tt.wantConf {
				t.Errorf("Config = %v, want [%q]", seq.Config, tt.wantConf)
			}
		})
	}

	if _, err := scpi.BuildSequenceWithRange(scpi.Function("watts"), "AUTO"); !errors.Is(err, pkgerrors.ErrUnsupportedFunction) {
		t.Errorf("expected ErrUnsupportedFunction, got: %v", err)
	}
}

func TestParseFunction(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    scpi.Function
		wantErr bool
	}{
		{name: "token", in: "dc_voltage", want: scpi.DCVoltage},
		{name: "uppercase token", in: "DC_VOLTAGE", want: scpi.DCVoltage},
		{name: "surrounding whitespace", in: "  frequency ", want: scpi.Frequency},
		{name: "four wire resistance", in: "resistance_4w", want: scpi.Resistance4W},
		{name: "unknown token", in: "watts", wantErr: true},
		{name: "display name is not a token", in: "DC Voltage", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scpi.ParseFunction(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got nil")
				}
				if !errors.Is(err, pkgerrors.ErrUnsupportedFunction) {
					t.Errorf("expected ErrUnsupportedFunction, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseFunction(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFunctionDisplayName(t *testing.T) {
	tests := []struct {
		fn   scpi.Function
		want string
	}{
		{fn: scpi.DCVoltage, want: "DC Voltage"},
		{fn: scpi.Resistance2W, want: "Resistance (2-wire)"},
		{fn: scpi.Resistance4W, want: "Resistance (4-wire)"},
		{fn: scpi.Temperature, want: "Temperature"},
		{fn: scpi.Function("custom"), want: "custom"},
	}

	for _, tt := range tests {
		if got := tt.fn.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.fn, got, tt.want)
		}
	}
}

func TestUnitFor(t *testing.T) {
	tests := []struct {
		fn   scpi.Function
		want string
	}{
		{fn: scpi.DCVoltage, want: "V"},
		{fn: scpi.ACVoltage, want: "V"},
		{fn: scpi.DCCurrent, want: "A"},
		{fn: scpi.ACCurrent, want: "A"},
		{fn: scpi.Resistance2W, want: "Ohm"},
		{fn: scpi.Resistance4W, want: "Ohm"},
		{fn: scpi.Frequency, want: "Hz"},
		{fn: scpi.Temperature, want: "C"},
		{fn: scpi.Function("watts"), want: ""},
	}

	for _, tt := range tests {
		if got := scpi.UnitFor(tt.fn); got != tt.want {
			t.Errorf("UnitFor(%q) = %q, want %q", tt.fn, got, tt.want)
		}
	}
}

func TestFunctions(t *testing.T) {
	fns := scpi.Functions()
	if len(fns) != 8 {
		t.Fatalf("Functions() returned %d entries, want 8", len(fns))
	}
	if fns[0] != scpi.DCVoltage {
		t.Errorf("first function = %q, want %q", fns[0], scpi.DCVoltage)
	}
	for _, fn := range fns {
		if !fn.Valid() {
			t.Errorf("Functions() returned invalid function %q", fn)
		}
	}

	// Returned slice is a copy; mutating it must not corrupt the catalog.
	fns[0] = scpi.Function("mutated")
	if again := scpi.Functions(); again[0] != scpi.DCVoltage {
		t.Errorf("catalog order changed after caller mutation: %q", again[0])
	}
}

func TestRanges(t *testing.T) {
	rs := scpi.Ranges(scpi.DCVoltage)
	if len(rs) == 0 || rs[0] != scpi.RangeAuto {
		t.Fatalf("Ranges(DCVoltage) = %v, want AUTO first", rs)
	}

	rs[0] = "mutated"
	if again := scpi.Ranges(scpi.DCVoltage); again[0] != scpi.RangeAuto {
		t.Errorf("catalog ranges changed after caller mutation: %v", again)
	}

	if got := scpi.Ranges(scpi.Function("watts")); got != nil {
		t.Errorf("Ranges(unknown) = %v, want nil", got)
	}
}

func TestValidRange(t *testing.T) {
	tests := []struct {
		name string
		fn   scpi.Function
		rng  string
		want bool
	}{
		{name: "empty", fn: scpi.DCVoltage, rng: "", want: true},
		{name: "auto", fn: scpi.DCVoltage, rng: "AUTO", want: true},
		{name: "lowercase auto", fn: scpi.DCVoltage, rng: "auto", want: true},
		{name: "listed numeric", fn: scpi.DCVoltage, rng: "10", want: true},
		{name: "unlisted numeric", fn: scpi.DCVoltage, rng: "0.5", want: true},
		{name: "named resistance range", fn: scpi.Resistance2W, rng: "1K", want: true},
		{name: "lowercase named range", fn: scpi.Resistance2W, rng: "10m", want: true},
		{name: "transducer type", fn: scpi.Temperature, rng: "RTD", want: true},
		{name: "transducer type on wrong function", fn: scpi.DCVoltage, rng: "RTD", want: false},
		{name: "garbage", fn: scpi.DCVoltage, rng: "banana", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scpi.ValidRange(tt.fn, tt.rng); got != tt.want {
				t.Errorf("ValidRange(%q, %q) = %v, want %v", tt.fn, tt.rng, got, tt.want)
			}
		})
	}
}

func TestIsQuery(t *testing.T) {
	tests := []struct {
		cmd  string
		want bool
	}{
		{cmd: "*IDN?", want: true},
		{cmd: "MEAS:VOLT:DC?", want: true},
		{cmd: "  *OPC?  \r\n", want: true},
		{cmd: "*RST", want: false},
		{cmd: "CONF:VOLT:DC AUTO", want: false},
		{cmd: "", want: false},
	}

	for _, tt := range tests {
		if got := scpi.IsQuery(tt.cmd); got != tt.want {
			t.Errorf("IsQuery(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}
