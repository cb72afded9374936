package scpi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/TaskforceCobra/instrument-contoller/errors"
)

// ParseResponse converts a raw instrument reply into a measurement value.
// Whitespace and line terminators are trimmed, and multi-field replies
// ("+1.0E+00,+2.0E+00") take the first field. Instruments answer measurement
// queries in scientific notation ("+1.23456789E+00"), which ParseFloat
// accepts directly.
//
// An empty or non-numeric reply fails with errors.ErrProtocol: the bus
// answered, but not with a measurement.
func ParseResponse(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errors.WrapTransient(errors.ErrProtocol, "Catalog", "ParseResponse",
			"empty response")
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.WrapTransient(errors.ErrProtocol, "Catalog", "ParseResponse",
			fmt.Sprintf("unparsable measurement %q", raw))
	}
	// ParseFloat accepts "NaN" and "Inf", neither of which survives JSON
	// encoding downstream.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.WrapTransient(errors.ErrProtocol, "Catalog", "ParseResponse",
			fmt.Sprintf("non-finite measurement %q", raw))
	}
	return v, nil
}
