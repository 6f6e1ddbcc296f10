package auth

import (
	"strconv"
	"strings"
)

// ParsePasswordDiff searches a stratum password field for an embedded
// "diff=<number>" token, following a strict word-boundary grammar:
//   - the match must start at the beginning of the (trimmed) string or be
//     immediately preceded by a comma;
//   - no space is permitted between "=" and the number;
//   - the number must be followed only by a comma or end-of-string (no
//     trailing whitespace variant is accepted);
//   - the token is case-sensitive ("Diff=" does not match).
//
// Returns (value, true) on a valid match, (0, false) otherwise.
func ParsePasswordDiff(password string) (float64, bool) {
	s := strings.TrimSpace(password)

	const token = "diff="
	for start := 0; start < len(s); {
		idx := strings.Index(s[start:], token)
		if idx < 0 {
			return 0, false
		}
		pos := start + idx

		if !wordBoundaryOK(s, pos) {
			start = pos + 1
			continue
		}

		valStart := pos + len(token)
		end := valStart
		for end < len(s) && s[end] != ',' {
			end++
		}
		numStr := s[valStart:end]

		if numStr == "" {
			start = pos + 1
			continue
		}

		v, err := strconv.ParseFloat(numStr, 64)
		if err != nil || v <= 0 || isNonFinite(v) {
			start = pos + 1
			continue
		}

		// Delimiter after the number must be comma-or-EOS exactly (end
		// already stopped at the first comma or len(s), and numStr has no
		// embedded whitespace because ParseFloat would have rejected it).
		return v, true
	}
	return 0, false
}

func wordBoundaryOK(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	return s[pos-1] == ','
}

func isNonFinite(v float64) bool {
	return v != v || v > 1e308 || v < -1e308
}
