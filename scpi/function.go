package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

// Function identifies a multimeter measurement function. Values are the wire
// tokens used in configuration files and API payloads; the zero value is not
// a valid function.
type Function string

// Measurement functions understood by the catalog.
const (
	DCVoltage    Function = "dc_voltage"
	ACVoltage    Function = "ac_voltage"
	DCCurrent    Function = "dc_current"
	ACCurrent    Function = "ac_current"
	Resistance2W Function = "resistance_2w"
	Resistance4W Function = "resistance_4w"
	Frequency    Function = "frequency"
	Temperature  Function = "temperature"
)

// functionOrder fixes the iteration order for Functions.
var functionOrder = []Function{
	DCVoltage, ACVoltage, DCCurrent, ACCurrent,
	Resistance2W, Resistance4W, Frequency, Temperature,
}

// String implements fmt.Stringer, returning the wire token.
func (f Function) String() string {
	return string(f)
}

// DisplayName returns the human-readable name used in table and graph
// output, e.g. "Resistance (4-wire)" for Resistance4W.
func (f Function) DisplayName() string {
	if e, ok := catalog[f]; ok {
		return e.display
	}
	return string(f)
}

// Valid reports whether the catalog knows the function.
func (f Function) Valid() bool {
	_, ok := catalog[f]
	return ok
}

// ParseFunction maps a wire token to its Function. Matching is
// case-insensitive and ignores surrounding whitespace; unknown tokens fail
// with errors.ErrUnsupportedFunction.
func ParseFunction(s string) (Function, error) {
	fn := Function(strings.ToLower(strings.TrimSpace(s)))
	if fn.Valid() {
		return fn, nil
	}
	return "", errors.WrapInvalid(errors.ErrUnsupportedFunction, "Catalog", "ParseFunction",
		fmt.Sprintf("unknown measurement function %q", s))
}

// Functions lists every supported function in catalog order.
func Functions() []Function {
	out := make([]Function, len(functionOrder))
	copy(out, functionOrder)
	return out
}

// UnitFor returns the measurement unit for a function ("V", "A", "Ohm",
// "Hz", "C"), or the empty string for an unknown function.
func UnitFor(fn Function) string {
	return catalog[fn].unit
}

// Ranges returns the conventional range settings for a function, RangeAuto
// first, or nil for an unknown function. Devices are not restricted to these
// values; arbitrary numeric ranges pass ValidRange too.
func Ranges(fn Function) []string {
	e, ok := catalog[fn]
	if !ok {
		return nil
	}
	out := make([]string, len(e.ranges))
	copy(out, e.ranges)
	return out
}

// ValidRange reports whether a range setting is acceptable for a function:
// empty (instrument default), RangeAuto, one of the function's named ranges,
// or any numeric value.
func ValidRange(fn Function, measRange string) bool {
	r := strings.ToUpper(strings.TrimSpace(measRange))
	if r == "" || r == RangeAuto {
		return true
	}
	for _, known := range catalog[fn].ranges {
		if r == known {
			return true
		}
	}
	_, err := strconv.ParseFloat(r, 64)
	return err == nil
}
