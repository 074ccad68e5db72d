// Package version orders package version strings.
//
// A version is numeric when every dot-separated segment is a non-empty run
// of ASCII digits ("1.2.10", "2024.01.05"). Numeric versions compare segment
// by segment as integers of arbitrary size and always sort above non-numeric
// versions, which compare lexicographically among themselves. A leading "v"
// makes a version non-numeric.
package version

import "strings"

// IsNumeric reports whether v consists only of dotted digit segments.
func IsNumeric(v string) bool {
	if v == "" {
		return false
	}
	for _, seg := range strings.Split(v, ".") {
		if seg == "" {
			return false
		}
		for i := 0; i < len(seg); i++ {
			if seg[i] < '0' || seg[i] > '9' {
				return false
			}
		}
	}
	return true
}

// Compare returns -1, 0 or 1 as a is lower than, equal to, or higher than b.
// The order is total: versions that are numerically equal but spelled
// differently ("1.2" and "1.2.0", "01" and "1") fall back to fewer segments
// first, then byte order.
func Compare(a, b string) int {
	an, bn := IsNumeric(a), IsNumeric(b)
	switch {
	case an && !bn:
		return 1
	case !an && bn:
		return -1
	case !an && !bn:
		return strings.Compare(a, b)
	}

	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		x, y := "0", "0"
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareDigits(x, y); c != 0 {
			return c
		}
	}

	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return strings.Compare(a, b)
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Max returns the highest of the given versions, or "" for none.
func Max(versions ...string) string {
	var best string
	for i, v := range versions {
		if i == 0 || Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}

// compareDigits compares two digit strings numerically without converting
// them, so segments wider than 64 bits still order correctly.
func compareDigits(x, y string) int {
	x = strings.TrimLeft(x, "0")
	y = strings.TrimLeft(y, "0")
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}
