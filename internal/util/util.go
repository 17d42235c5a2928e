package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSexagesimal parses "sDD*MM:SS.S", "HH:MM:SS.SS" or "sDD:MM" style
// fields into decimal units. A plain decimal number is accepted as well.
func ParseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty sexagesimal value")
	}
	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == '*' || r == '\xdf' || r == ' '
	})
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed sexagesimal value %q", s)
	}
	value := 0.0
	scale := 1.0
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed sexagesimal value %q: %w", s, err)
		}
		value += f / scale
		scale *= 60
	}
	return sign * value, nil
}

// FormatSexagesimal renders v as [s]DD<sep>MM:SS.s with the given number of
// second decimals.
func FormatSexagesimal(v float64, sep string, signed bool, decimals int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	} else if signed {
		sign = "+"
	}
	pow := math.Pow(10, float64(decimals))
	total := math.Round(v*3600*pow) / pow
	deg := math.Floor(total / 3600)
	min := math.Floor((total - deg*3600) / 60)
	sec := total - deg*3600 - min*60
	width := 2
	if decimals > 0 {
		width = 3 + decimals
	}
	return fmt.Sprintf("%s%02d%s%02d:%0*.*f", sign, int(deg), sep, int(min), width, decimals, sec)
}

func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func ParseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "+")))
}

// ParseFlag reads a "0"/"1" style boolean field.
func ParseFlag(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("malformed flag %q", s)
}

func FlagString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
