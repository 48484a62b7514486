package domain

import (
	"sort"
	"strings"
)

// NormalizeExternalID returns the canonical string form of a back-office
// customer ID. Exigo hands IDs out as integers, Fluid stores them as
// strings, and some exports render them as floats ("1042.0"). All of
// those collapse to the same canonical value: surrounding whitespace is
// trimmed, and purely numeric IDs lose leading zeros and a ".0" suffix.
// Non-numeric IDs are returned trimmed but otherwise untouched.
func NormalizeExternalID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" && isDigits(s[:i]) {
		s = s[:i]
	}
	if !isDigits(s) {
		return s
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IDSet is a set of normalized external IDs.
type IDSet map[string]struct{}

// NewIDSet builds a set from raw IDs, normalizing each one. Empty IDs are dropped.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add normalizes id and inserts it.
func (s IDSet) Add(id string) {
	if n := NormalizeExternalID(id); n != "" {
		s[n] = struct{}{}
	}
}

// Contains reports whether the normalized id is in the set.
func (s IDSet) Contains(id string) bool {
	_, ok := s[NormalizeExternalID(id)]
	return ok
}

// Len returns the number of IDs.
func (s IDSet) Len() int { return len(s) }

// Difference returns the IDs in s that are not in other.
func (s IDSet) Difference(other IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if _, ok := other[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Intersect returns the IDs present in both sets.
func (s IDSet) Intersect(other IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if _, ok := other[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Union returns a new set with the IDs of both sets.
func (s IDSet) Union(other IDSet) IDSet {
	out := make(IDSet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the IDs in canonical order: numeric IDs by value first,
// then everything else lexically.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	SortExternalIDs(out)
	return out
}

// SortExternalIDs sorts normalized IDs in canonical order in place.
func SortExternalIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		an, bn := isDigits(a), isDigits(b)
		switch {
		case an && bn:
			if len(a) != len(b) {
				return len(a) < len(b)
			}
			return a < b
		case an != bn:
			return an
		default:
			return a < b
		}
	})
}
