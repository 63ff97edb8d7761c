// Package engagement converts PTT's compressed push-count markers into
// integer scores.
//
// The index page shows the net push count of a post in the "nrec" column.
// Small counts are printed as digits. Very popular posts collapse into the
// explosive marker "爆" and heavily booed posts into "X" followed by a
// digit. Scores derived from the two sentinel forms are lower-bound
// estimates, not exact counts.
package engagement

import "strings"

const (
	// Explosive is the marker shown once a post passes 99 net pushes.
	Explosive = "爆"

	// Offset is the prefix of the "X<n>" marker family.
	Offset = "X"

	// ExplosiveScore is the score assigned to the explosive marker and to
	// offset markers without a number.
	ExplosiveScore = 100

	// offsetScale multiplies the digit following the offset marker.
	offsetScale = 100

	// maxDigits bounds numeric markers. Real ones have at most two digits.
	maxDigits = 9
)

// Parse converts a raw marker into a score. Surrounding whitespace is
// ignored. Unknown or empty markers score zero.
func Parse(marker string) int {
	marker = strings.TrimSpace(marker)

	if marker == Explosive {
		return ExplosiveScore
	}

	if n, ok := digits(marker); ok {
		return n
	}

	if rest, found := strings.CutPrefix(marker, Offset); found {
		if n, ok := digits(rest); ok {
			return n * offsetScale
		}
		// "X", "XX" and other non-numeric forms
		return ExplosiveScore
	}

	return 0
}

// IsEstimate reports whether the marker is one of the sentinel forms whose
// score is only a lower bound.
func IsEstimate(marker string) bool {
	marker = strings.TrimSpace(marker)
	return marker == Explosive || strings.HasPrefix(marker, Offset)
}

// digits parses s as a non-negative decimal integer. It rejects empty
// strings, signs, any non-ASCII digit and anything longer than maxDigits.
func digits(s string) (int, bool) {
	if s == "" || len(s) > maxDigits {
		return 0, false
	}

	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
