package pool

import (
	"errors"
	"time"
	"unsafe"
)

// ErrInvalidTimestamp is returned when a timestamp cannot be parsed.
var ErrInvalidTimestamp = errors.New("pool: invalid timestamp")

// Fallback layouts ordered by likelihood in XES files.
var commonLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestampNanos parses an xs:dateTime value into nanoseconds since the
// Unix epoch. The ISO 8601 shape is parsed by byte inspection; anything else
// falls back to time.Parse over commonLayouts.
func ParseTimestampNanos(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrInvalidTimestamp
	}

	if len(b) >= 10 && b[4] == '-' && b[7] == '-' {
		if ns, ok := parseISO8601Fast(b); ok {
			return ns, nil
		}
	}

	s := unsafe.String(&b[0], len(b))
	for _, layout := range commonLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixNano(), nil
		}
	}

	return 0, ErrInvalidTimestamp
}

// FormatTimestampNanos renders nanoseconds since the epoch in the round-trip
// layout XES writers use.
func FormatTimestampNanos(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}

// parseISO8601Fast parses YYYY-MM-DD[Thh:mm:ss[.fffffffff]][Z|±hh:mm].
func parseISO8601Fast(b []byte) (int64, bool) {
	year := parseDigits(b[0:4])
	month := parseDigits(b[5:7])
	day := parseDigits(b[8:10])

	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, false
	}

	var hour, minute, second, nsec int
	loc := time.UTC

	if len(b) > 10 {
		if (b[10] != 'T' && b[10] != ' ') || len(b) < 19 || b[13] != ':' || b[16] != ':' {
			return 0, false
		}
		hour = parseDigits(b[11:13])
		minute = parseDigits(b[14:16])
		second = parseDigits(b[17:19])
		if hour < 0 || minute < 0 || second < 0 {
			return 0, false
		}

		i := 19
		if i < len(b) && b[i] == '.' {
			end := i + 1
			for end < len(b) && b[end] >= '0' && b[end] <= '9' {
				end++
			}
			nsec = parseFraction(b[i+1 : end])
			i = end
		}

		switch {
		case i == len(b):
		case b[i] == 'Z' && i+1 == len(b):
		case (b[i] == '+' || b[i] == '-') && len(b)-i == 6 && b[i+3] == ':':
			offsetHours := parseDigits(b[i+1 : i+3])
			offsetMins := parseDigits(b[i+4 : i+6])
			if offsetHours < 0 || offsetMins < 0 {
				return 0, false
			}
			offset := offsetHours*3600 + offsetMins*60
			if b[i] == '-' {
				offset = -offset
			}
			loc = time.FixedZone("", offset)
		default:
			return 0, false
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc)
	return t.UnixNano(), true
}

// parseDigits parses a run of ASCII digits, returning -1 on any other byte.
func parseDigits(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// parseFraction parses fractional seconds to nanoseconds.
func parseFraction(b []byte) int {
	result := 0
	multiplier := 100000000

	for i := 0; i < len(b) && i < 9; i++ {
		result += int(b[i]-'0') * multiplier
		multiplier /= 10
	}

	return result
}
