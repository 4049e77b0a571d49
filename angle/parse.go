package angle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FormatError is returned when a string matches none of the supported
// angle formats.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unrecognized angle %q", e.Input)
}

var (
	dmsRE     = regexp.MustCompile(`^([+-])?\s*(\d+)\s*(?:°|d|º)\s*(\d+(?:\.\d+)?)\s*(?:'|m|′)\s*(?:(\d+(?:\.\d+)?)\s*(?:"|s|″)?)?$`)
	hmsRE     = regexp.MustCompile(`^([+-])?\s*(\d+)\s*h\s*(\d+(?:\.\d+)?)\s*(?:m|')\s*(?:(\d+(?:\.\d+)?)\s*(?:s|")?)?$`)
	colonRE   = regexp.MustCompile(`^([+-])?\s*(\d+):(\d+(?:\.\d+)?)(?::(\d+(?:\.\d+)?))?$`)
	compactRE = regexp.MustCompile(`^([+-])?(\d{2,3})(\d{2})(\d{2}(?:\.\d+)?)$`)
	decimalRE = regexp.MustCompile(`^([+-]?(?:\d+(?:\.\d*)?|\.\d+))\s*(°|º|d|h)?$`)
)

type parsed struct {
	value  float64
	format Format
}

// parsers are tried in order; the first match wins.
var parsers = []func(s string, u unit) (parsed, bool){
	parseSymbols,
	parseColon,
	parseCompact,
	parseDecimal,
}

func parse(s string, u unit) (parsed, error) {
	in := strings.TrimSpace(s)
	for _, p := range parsers {
		if v, ok := p(in, u); ok {
			return v, nil
		}
	}
	return parsed{}, &FormatError{Input: s}
}

// Parse reads an angle in degrees. Accepted forms, in priority order:
// 12°30'15.5", 12:30:15.5 (or 12:30.5), 123015 and 12.504.
func Parse(s string) (Angle, error) {
	p, err := parse(s, unitDegrees)
	if err != nil {
		return Angle{}, err
	}
	return Angle{sx: newSexagesimal(p.value, p.format)}, nil
}

// ParseHours reads an hour angle. Accepted forms, in priority order:
// 12h30m15.5s, 12:30:15.5, 123015 and 12.504.
func ParseHours(s string) (HourAngle, error) {
	p, err := parse(s, unitHours)
	if err != nil {
		return HourAngle{}, err
	}
	return HourAngle{sx: newSexagesimal(p.value, p.format)}, nil
}

func MustParse(s string) Angle {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func MustParseHours(s string) HourAngle {
	h, err := ParseHours(s)
	if err != nil {
		panic(err)
	}
	return h
}

func parseSymbols(s string, u unit) (parsed, bool) {
	re := dmsRE
	if u == unitHours {
		re = hmsRE
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return parsed{}, false
	}
	v, ok := sexagesimalValue(m[1], m[2], m[3], m[4])
	return parsed{value: v, format: DMS}, ok
}

func parseColon(s string, u unit) (parsed, bool) {
	m := colonRE.FindStringSubmatch(s)
	if m == nil {
		return parsed{}, false
	}
	v, ok := sexagesimalValue(m[1], m[2], m[3], m[4])
	return parsed{value: v, format: Colon}, ok
}

func parseCompact(s string, u unit) (parsed, bool) {
	m := compactRE.FindStringSubmatch(s)
	if m == nil {
		return parsed{}, false
	}
	v, ok := sexagesimalValue(m[1], m[2], m[3], m[4])
	return parsed{value: v, format: Compact}, ok
}

func parseDecimal(s string, u unit) (parsed, bool) {
	m := decimalRE.FindStringSubmatch(s)
	if m == nil {
		return parsed{}, false
	}
	if u == unitDegrees && m[2] == "h" || u == unitHours && m[2] != "" && m[2] != "h" {
		return parsed{}, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return parsed{}, false
	}
	return parsed{value: v, format: Decimal}, true
}

// sexagesimalValue combines the captured fields, rejecting minutes or
// seconds outside [0, 60).
func sexagesimalValue(sign, whole, minutes, seconds string) (float64, bool) {
	w, err := strconv.ParseFloat(whole, 64)
	if err != nil {
		return 0, false
	}
	m, err := strconv.ParseFloat(minutes, 64)
	if err != nil || m >= 60 {
		return 0, false
	}
	var s float64
	if seconds != "" {
		if strings.Contains(minutes, ".") {
			return 0, false
		}
		s, err = strconv.ParseFloat(seconds, 64)
		if err != nil || s >= 60 {
			return 0, false
		}
	}
	v := w + m/60 + s/3600
	if sign == "-" {
		v = -v
	}
	return v, true
}
