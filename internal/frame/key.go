// Package frame defines the identity and payload types for processed
// 2-D slices of VVM simulation output.
package frame

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FullColumn marks a key that addresses the whole vertical column
// (derived or reduced fields) rather than a single model level.
const FullColumn int32 = -1

// Microdeg is a latitude/longitude coordinate in microdegrees.
// Domain bounds are stored fixed-precision so that two keys built from
// the same selection always compare equal, no float drift.
type Microdeg int32

func MicrodegOf(deg float64) Microdeg {
	return Microdeg(math.Round(deg * 1e6))
}

func (m Microdeg) Degrees() float64 {
	return float64(m) / 1e6
}

// Domain is a rectangular lat/lon selection.
type Domain struct {
	LatMin, LatMax Microdeg
	LonMin, LonMax Microdeg
}

func NewDomain(latMin, latMax, lonMin, lonMax float64) Domain {
	return Domain{
		LatMin: MicrodegOf(latMin),
		LatMax: MicrodegOf(latMax),
		LonMin: MicrodegOf(lonMin),
		LonMax: MicrodegOf(lonMax),
	}
}

func (d Domain) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f",
		d.LatMin.Degrees(), d.LatMax.Degrees(), d.LonMin.Degrees(), d.LonMax.Degrees())
}

// SliceKey identifies one processed 2-D slice. It is a value type: all
// fields are comparable, so keys can be used directly as map keys.
// Overlay holds the canonicalized overlay parameters (see CanonicalOverlay).
type SliceKey struct {
	Variable  string
	TimeIndex int
	Level     int32
	Domain    Domain
	Overlay   string
}

// NewSliceKey builds a key with the overlay parameters canonicalized.
// Pass Level = FullColumn for whole-column selections.
func NewSliceKey(variable string, timeIndex int, level int32, d Domain, overlay map[string]string) SliceKey {
	return SliceKey{
		Variable:  variable,
		TimeIndex: timeIndex,
		Level:     level,
		Domain:    d,
		Overlay:   CanonicalOverlay(overlay),
	}
}

// CanonicalOverlay renders overlay parameters as a deterministic
// "k=v;k=v" string with keys sorted, so that equal parameter sets
// always produce equal keys.
func CanonicalOverlay(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	var b strings.Builder
	for i, k := range ks {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

// OverlayValues parses a canonical overlay string back into a map.
func OverlayValues(s string) map[string]string {
	out := map[string]string{}
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

// WithTimeIndex returns a copy of the key shifted to another time step.
// Used by the prefetch scheduler to walk the playback axis.
func (k SliceKey) WithTimeIndex(t int) SliceKey {
	k.TimeIndex = t
	return k
}

// SameAxis reports whether o addresses the same playback axis as k,
// i.e. all fields equal except the time index.
func (k SliceKey) SameAxis(o SliceKey) bool {
	k.TimeIndex = 0
	o.TimeIndex = 0
	return k == o
}

// Compare imposes a total order on keys: variable, then time index,
// then level. Remaining fields break ties so the order is strict.
func (k SliceKey) Compare(o SliceKey) int {
	if c := strings.Compare(k.Variable, o.Variable); c != 0 {
		return c
	}
	if k.TimeIndex != o.TimeIndex {
		if k.TimeIndex < o.TimeIndex {
			return -1
		}
		return 1
	}
	if k.Level != o.Level {
		if k.Level < o.Level {
			return -1
		}
		return 1
	}
	if c := compareDomain(k.Domain, o.Domain); c != 0 {
		return c
	}
	return strings.Compare(k.Overlay, o.Overlay)
}

func compareDomain(a, b Domain) int {
	av := [4]Microdeg{a.LatMin, a.LatMax, a.LonMin, a.LonMax}
	bv := [4]Microdeg{b.LatMin, b.LatMax, b.LonMin, b.LonMax}
	for i := range av {
		if av[i] != bv[i] {
			if av[i] < bv[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Digest is a stable 64-bit hash of the key, used for compact logging
// and telemetry correlation.
func (k SliceKey) Digest() uint64 {
	return xxhash.Sum64String(k.String())
}

func (k SliceKey) String() string {
	z := "col"
	if k.Level != FullColumn {
		z = fmt.Sprintf("%d", k.Level)
	}
	if k.Overlay == "" {
		return fmt.Sprintf("%s:t=%d:z=%s:d=%s", k.Variable, k.TimeIndex, z, k.Domain)
	}
	return fmt.Sprintf("%s:t=%d:z=%s:d=%s:%s", k.Variable, k.TimeIndex, z, k.Domain, k.Overlay)
}
