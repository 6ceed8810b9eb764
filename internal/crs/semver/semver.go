// Package semver implements version parsing, precedence, and half-open
// interval range intersection for dependency expressions. No dependency in
// the retrieved corpus offers interval-intersection semver ranges (see
// DESIGN.md), so this is hand-rolled.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is (major, minor, patch, prerelease?, build?) with semver
// precedence. Build metadata is carried for round-tripping but never
// affects comparison.
type Version struct {
	Major, Minor, Patch int
	Prerelease          string
	Build               string
}

func Parse(s string) (Version, error) {
	var v Version
	rest := s
	if b := strings.IndexByte(rest, '+'); b >= 0 {
		v.Build = rest[b+1:]
		rest = rest[:b]
	}
	if p := strings.IndexByte(rest, '-'); p >= 0 {
		v.Prerelease = rest[p+1:]
		rest = rest[:p]
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("semver: %q is not major.minor.patch", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return v, fmt.Errorf("semver: %q has a non-numeric component %q", s, p)
		}
		nums[i] = n
	}
	v.Major, v.Minor, v.Patch = nums[0], nums[1], nums[2]
	return v, nil
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// Compare returns -1, 0, or 1 per semver precedence rules (build metadata
// ignored; a version with no prerelease outranks one with a prerelease).
func Compare(a, b Version) int {
	if c := cmpInt(a.Major, b.Major); c != 0 {
		return c
	}
	if c := cmpInt(a.Minor, b.Minor); c != 0 {
		return c
	}
	if c := cmpInt(a.Patch, b.Patch); c != 0 {
		return c
	}
	return comparePrerelease(a.Prerelease, b.Prerelease)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func comparePrerelease(a, b string) int {
	if a == "" && b == "" {
		return 0
	}
	if a == "" {
		return 1 // no prerelease > has prerelease
	}
	if b == "" {
		return -1
	}
	ai, bi := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(ai) && i < len(bi); i++ {
		an, aerr := strconv.Atoi(ai[i])
		bn, berr := strconv.Atoi(bi[i])
		if aerr == nil && berr == nil {
			if c := cmpInt(an, bn); c != 0 {
				return c
			}
			continue
		}
		if ai[i] != bi[i] {
			if ai[i] < bi[i] {
				return -1
			}
			return 1
		}
	}
	return cmpInt(len(ai), len(bi))
}

// Bound is one endpoint of a half-open interval: value v, inclusive or not.
type Bound struct {
	Value     Version
	Inclusive bool
	// Open reports an unbounded side (no lower/upper limit at all).
	Open bool
}

// Interval is a range from Low to High; each bound is inclusive,
// exclusive, or open.
type Interval struct {
	Low, High Bound
}

// Range is an intersection of Intervals, matching a dependency
// expression's version range.
type Range struct {
	Intervals []Interval
}

// Matches reports whether v satisfies every interval in r (AND semantics —
// a dependency expression's range is an intersection).
func (r Range) Matches(v Version) bool {
	for _, iv := range r.Intervals {
		if !iv.contains(v) {
			return false
		}
	}
	return true
}

func (iv Interval) contains(v Version) bool {
	if !iv.Low.Open {
		c := Compare(v, iv.Low.Value)
		if iv.Low.Inclusive {
			if c < 0 {
				return false
			}
		} else if c <= 0 {
			return false
		}
	}
	if !iv.High.Open {
		c := Compare(v, iv.High.Value)
		if iv.High.Inclusive {
			if c > 0 {
				return false
			}
		} else if c >= 0 {
			return false
		}
	}
	return true
}

// Intersect returns the Range satisfying both a and b. Intersecting ranges
// is simply concatenating interval lists: a version must satisfy every
// interval in the union.
func Intersect(a, b Range) Range {
	out := Range{Intervals: make([]Interval, 0, len(a.Intervals)+len(b.Intervals))}
	out.Intervals = append(out.Intervals, a.Intervals...)
	out.Intervals = append(out.Intervals, b.Intervals...)
	return out
}

// Satisfiable reports whether any version could possibly satisfy r,
// without enumerating candidates. It's a coarse syntactic check: the
// highest lower bound must sort below the lowest upper bound.
func (r Range) Satisfiable() bool {
	var low, high *Version
	for _, iv := range r.Intervals {
		if !iv.Low.Open {
			lv := iv.Low.Value
			if !iv.Low.Inclusive {
				lv = bump(lv)
			}
			if low == nil || Compare(lv, *low) > 0 {
				low = &lv
			}
		}
		if !iv.High.Open {
			hv := iv.High.Value
			if high == nil || Compare(hv, *high) < 0 {
				high = &hv
			}
		}
	}
	if low == nil || high == nil {
		return true
	}
	return Compare(*low, *high) < 0
}

func bump(v Version) Version {
	v.Patch++
	return v
}

// ParseRange parses a caret range (^1.2.3 meaning >=1.2.3 <2.0.0, or
// >=1.2.3 <1.3.0 if major is 0), a tilde range (~1.2.3 meaning >=1.2.3
// <1.3.0), a bare comparator (">=1.2.3", "<1.3", "=1.2.3"), or a bare
// version (treated as a caret range). A clause's version may omit minor
// and patch ("^1", "<1.3"); missing components are zero. Multiple clauses
// separated by whitespace intersect.
func ParseRange(s string) (Range, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Range{}, fmt.Errorf("semver: empty range")
	}
	var r Range
	for _, f := range fields {
		iv, err := parseClause(f)
		if err != nil {
			return Range{}, err
		}
		r.Intervals = append(r.Intervals, iv)
	}
	return r, nil
}

func parseClause(f string) (Interval, error) {
	switch {
	case strings.HasPrefix(f, "^"):
		v, err := parseRangeVersion(f[1:])
		if err != nil {
			return Interval{}, err
		}
		return caretInterval(v), nil
	case strings.HasPrefix(f, "~"):
		v, err := parseRangeVersion(f[1:])
		if err != nil {
			return Interval{}, err
		}
		upper := v
		upper.Minor++
		upper.Patch = 0
		upper.Prerelease, upper.Build = "", ""
		return Interval{Low: Bound{Value: v, Inclusive: true}, High: Bound{Value: upper}}, nil
	case strings.HasPrefix(f, ">="):
		v, err := parseRangeVersion(f[2:])
		if err != nil {
			return Interval{}, err
		}
		return Interval{Low: Bound{Value: v, Inclusive: true}, High: Bound{Open: true}}, nil
	case strings.HasPrefix(f, "<="):
		v, err := parseRangeVersion(f[2:])
		if err != nil {
			return Interval{}, err
		}
		return Interval{Low: Bound{Open: true}, High: Bound{Value: v, Inclusive: true}}, nil
	case strings.HasPrefix(f, ">"):
		v, err := parseRangeVersion(f[1:])
		if err != nil {
			return Interval{}, err
		}
		return Interval{Low: Bound{Value: v, Inclusive: false}, High: Bound{Open: true}}, nil
	case strings.HasPrefix(f, "<"):
		v, err := parseRangeVersion(f[1:])
		if err != nil {
			return Interval{}, err
		}
		return Interval{Low: Bound{Open: true}, High: Bound{Value: v, Inclusive: false}}, nil
	case strings.HasPrefix(f, "="):
		v, err := parseRangeVersion(f[1:])
		if err != nil {
			return Interval{}, err
		}
		return exactInterval(v), nil
	default:
		v, err := parseRangeVersion(f)
		if err != nil {
			return Interval{}, err
		}
		return caretInterval(v), nil
	}
}

// parseRangeVersion parses a range clause's version operand, accepting the
// partial forms "1" and "1.3" as 1.0.0 and 1.3.0.
func parseRangeVersion(s string) (Version, error) {
	core := s
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	suffix := s[len(core):]
	for n := strings.Count(core, "."); n < 2; n++ {
		core += ".0"
	}
	return Parse(core + suffix)
}

func caretInterval(v Version) Interval {
	upper := v
	switch {
	case v.Major > 0:
		upper.Major++
		upper.Minor, upper.Patch = 0, 0
	case v.Minor > 0:
		upper.Minor++
		upper.Patch = 0
	default:
		upper.Patch++
	}
	upper.Prerelease, upper.Build = "", ""
	return Interval{Low: Bound{Value: v, Inclusive: true}, High: Bound{Value: upper}}
}

func exactInterval(v Version) Interval {
	upper := bump(v)
	return Interval{Low: Bound{Value: v, Inclusive: true}, High: Bound{Value: upper}}
}
