package version

import (
	"strconv"
	"strings"

	hashiversion "github.com/hashicorp/go-version"
)

// Result is the four-way outcome of comparing an installed version (or
// absence of one) against a candidate pkginfo version. NotPresent
// extends the three-way ordering with "no evidence of installation at
// all", which plain segment comparison cannot express.
type Result int

const (
	Older Result = iota
	NotPresent
	Same
	Newer
)

func (r Result) String() string {
	switch r {
	case Older:
		return "older"
	case NotPresent:
		return "notPresent"
	case Same:
		return "same"
	case Newer:
		return "newer"
	default:
		return "unknown"
	}
}

// Normalize trims trailing ".0" segments so "1.2.0.0" and "1.2" compare
// equal.
func Normalize(v string) string {
	parts := strings.Split(strings.TrimSpace(v), ".")
	for len(parts) > 1 && parts[len(parts)-1] == "0" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

// Compare returns -1, 0, or 1 for a < b, a == b, a > b under the total
// order: normalize both sides, then defer to hashicorp/go-version's
// segment-wise numeric comparison. go-version itself doesn't trim
// trailing-zero segments (it treats "1.2" and "1.2.0" as distinct in
// String() though equal in Compare()), so normalization is done first
// to guarantee the invariant independent of go-version's internals,
// and a lexicographic fallback handles segments go-version can't parse
// (it requires a dotted-numeric-ish core).
func Compare(a, b string) int {
	na, nb := Normalize(a), Normalize(b)
	va, aerr := hashiversion.NewVersion(na)
	vb, berr := hashiversion.NewVersion(nb)
	if aerr == nil && berr == nil {
		return va.Compare(vb)
	}
	return compareSegments(na, nb)
}

// compareSegments is the fallback total order for version strings
// go-version rejects (e.g. non-numeric segments), padding the shorter
// side with zero segments and comparing numerically where possible,
// lexicographically otherwise.
func compareSegments(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		sa, sb := "0", "0"
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		if sa == sb {
			continue
		}
		ia, aerr := strconv.Atoi(sa)
		ib, berr := strconv.Atoi(sb)
		if aerr == nil && berr == nil {
			if ia < ib {
				return -1
			}
			return 1
		}
		if sa < sb {
			return -1
		}
		return 1
	}
	return 0
}

// IsOlder reports whether a sorts strictly before b under Compare.
func IsOlder(a, b string) bool { return Compare(a, b) < 0 }

// IsSame reports whether a and b compare equal under Compare.
func IsSame(a, b string) bool { return Compare(a, b) == 0 }

// CompareInstalled compares an installed version against a pkginfo's
// declared version, returning the four-way Result. An empty
// installedVersion means "no evidence of installation" and always
// yields NotPresent regardless of pkginfoVersion.
func CompareInstalled(installedVersion, pkginfoVersion string) Result {
	if strings.TrimSpace(installedVersion) == "" {
		return NotPresent
	}
	switch Compare(installedVersion, pkginfoVersion) {
	case -1:
		return Older
	case 1:
		return Newer
	default:
		return Same
	}
}
