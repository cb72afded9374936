// Package scpi maps multimeter measurement functions to the text commands
// polled over the instrument bus and parses the replies that come back.
//
// The catalog is pure data: BuildSequence never touches the bus. Device
// workers send Sequence.Config once per connection (and again on a function
// change) and Sequence.Query every poll; replies go through ParseResponse.
package scpi

import (
	"fmt"
	"strings"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

// Common commands shared by every IEEE 488.2 instrument. CmdIdentify is sent
// at connect time; the rest are exposed for the direct-command surface.
const (
	CmdIdentify          = "*IDN?"
	CmdReset             = "*RST"
	CmdClearStatus       = "*CLS"
	CmdSelfTest          = "*TST?"
	CmdOperationComplete = "*OPC?"
	CmdWait              = "*WAI"
)

// RangeAuto selects instrument auto-ranging for any measurement function.
const RangeAuto = "AUTO"

// Sequence is the command set for one measurement function. Config commands
// establish the function (and range) on the instrument; Query reads one
// measurement.
type Sequence struct {
	Config []string
	Query  string
}

// entry binds one measurement function to its bus commands and metadata.
type entry struct {
	display string
	conf    string
	query   string
	unit    string
	ranges  []string
}

var catalog = map[Function]entry{
	DCVoltage: {
		display: "DC Voltage",
		conf:    "CONF:VOLT:DC",
		query:   "MEAS:VOLT:DC?",
		unit:    "V",
		ranges:  []string{RangeAuto, "0.1", "1", "10", "100", "1000"},
	},
	ACVoltage: {
		display: "AC Voltage",
		conf:    "CONF:VOLT:AC",
		query:   "MEAS:VOLT:AC?",
		unit:    "V",
		ranges:  []string{RangeAuto, "0.1", "1", "10", "100", "750"},
	},
	DCCurrent: {
		display: "DC Current",
		conf:    "CONF:CURR:DC",
		query:   "MEAS:CURR:DC?",
		unit:    "A",
		ranges:  []string{RangeAuto, "0.001", "0.01", "0.1", "1", "3"},
	},
	ACCurrent: {
		display: "AC Current",
		conf:    "CONF:CURR:AC",
		query:   "MEAS:CURR:AC?",
		unit:    "A",
		ranges:  []string{RangeAuto, "0.001", "0.01", "0.1", "1", "3"},
	},
	Resistance2W: {
		display: "Resistance (2-wire)",
		conf:    "CONF:RES",
		query:   "MEAS:RES?",
		unit:    "Ohm",
		ranges:  []string{RangeAuto, "100", "1K", "10K", "100K", "1M", "10M", "100M"},
	},
	Resistance4W: {
		display: "Resistance (4-wire)",
		conf:    "CONF:FRES",
		query:   "MEAS:FRES?",
		unit:    "Ohm",
		ranges:  []string{RangeAuto, "100", "1K", "10K", "100K", "1M", "10M", "100M"},
	},
	Frequency: {
		display: "Frequency",
		conf:    "CONF:FREQ",
		query:   "MEAS:FREQ?",
		unit:    "Hz",
		ranges:  []string{RangeAuto, "1", "10", "100", "1K", "10K", "100K", "1M"},
	},
	Temperature: {
		display: "Temperature",
		conf:    "CONF:TEMP",
		query:   "MEAS:TEMP?",
		unit:    "C",
		ranges:  []string{RangeAuto, "RTD", "THERMISTOR", "THERMOCOUPLE"},
	},
}

// BuildSequence returns the command sequence for a measurement function using
// the instrument's default range.
func BuildSequence(fn Function) (Sequence, error) {
	return BuildSequenceWithRange(fn, "")
}

// BuildSequenceWithRange is BuildSequence with a measurement range appended
// to the configuration command ("CONF:VOLT:DC 10"). measRange may be empty
// (instrument default), RangeAuto, a numeric value, or a named range such as
// "1K". SCPI mnemonics are case-insensitive, so the range is uppercased
// before use.
func BuildSequenceWithRange(fn Function, measRange string) (Sequence, error) {
	e, ok := catalog[fn]
	if !ok {
		return Sequence{}, errors.WrapInvalid(errors.ErrUnsupportedFunction, "Catalog", "BuildSequence",
			fmt.Sprintf("no commands for function %q", fn))
	}
	conf := e.conf
	if r := strings.ToUpper(strings.TrimSpace(measRange)); r != "" {
		conf += " " + r
	}
	return Sequence{Config: []string{conf}, Query: e.query}, nil
}

// IsQuery reports whether a raw command expects a reply (trailing "?").
// Used by the direct-command surface to decide whether to read the bus after
// writing.
func IsQuery(cmd string) bool {
	return strings.HasSuffix(strings.TrimSpace(cmd), "?")
}
