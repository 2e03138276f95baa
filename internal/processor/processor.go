// Package processor implements the standard slice processor: column
// reduction, display unit conversion, normalization bounds and the
// overlay companions (wind vectors, contour data). Process is a pure
// function of the slab and overlay parameters; Compose performs the
// extra reads the companions need. Both are keyed by the full overlay
// set, so results are safe to cache.
package processor

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/vvm"
)

// Display conversions for mixing ratios; everything else renders in
// its native units.
var conversions = map[string]struct {
	scale float32
	units string
}{
	"qc": {1000, "g/kg"},
	"qv": {1000, "g/kg"},
	"qr": {1000, "g/kg"},
	"qi": {1000, "g/kg"},
}

const (
	robustLo = 0.02
	robustHi = 0.98
)

type Processor struct{}

func New() *Processor { return &Processor{} }

// Process materializes the slab, reduces it to 2-D and attaches
// display bounds. Overlay parameters:
//
//	reduce: index (default, single-level slab), mean, max
//	norm:   minmax (default), robust (2–98 percentile bounds)
//
// The wind and contour parameters need extra reads and are handled by
// Compose.
func (p *Processor) Process(slab *vvm.Slab, overlay map[string]string) (*frame.Slice, error) {
	if slab == nil || slab.Values == nil {
		return nil, fmt.Errorf("nil slab")
	}
	if slab.NZ <= 0 || slab.NY <= 0 || slab.NX <= 0 {
		return nil, fmt.Errorf("degenerate slab dims %dx%dx%d", slab.NZ, slab.NY, slab.NX)
	}
	if len(slab.Lat) != slab.NY || len(slab.Lon) != slab.NX {
		return nil, fmt.Errorf("coordinate arrays do not match dims: lat=%d lon=%d", len(slab.Lat), len(slab.Lon))
	}

	vals, err := slab.Values()
	if err != nil {
		return nil, fmt.Errorf("materialize slab: %w", err)
	}
	if len(vals) != slab.NZ*slab.NY*slab.NX {
		return nil, fmt.Errorf("slab values length %d, want %d", len(vals), slab.NZ*slab.NY*slab.NX)
	}

	reduce := overlay["reduce"]
	if reduce == "" {
		reduce = "index"
	}
	plane, err := reduceColumn(vals, slab.NZ, slab.NY*slab.NX, reduce)
	if err != nil {
		return nil, err
	}

	units := slab.Units
	if conv, ok := conversions[slab.Variable]; ok {
		for i, v := range plane {
			plane[i] = v * conv.scale
		}
		units = conv.units
	}

	lo, hi := bounds(plane, overlay["norm"])

	return &frame.Slice{
		Variable: slab.Variable,
		LongName: slab.LongName,
		Units:    units,
		NY:       slab.NY,
		NX:       slab.NX,
		Lat:      slab.Lat,
		Lon:      slab.Lon,
		Values:   plane,
		Min:      lo,
		Max:      hi,
	}, nil
}

func reduceColumn(vals []float32, nz, planeSize int, how string) ([]float32, error) {
	switch how {
	case "index":
		if nz != 1 {
			return nil, fmt.Errorf("reduce=index needs a single-level slab, got %d levels", nz)
		}
		out := make([]float32, planeSize)
		copy(out, vals[:planeSize])
		return out, nil

	case "mean":
		out := make([]float32, planeSize)
		for i := 0; i < planeSize; i++ {
			var sum float64
			n := 0
			for z := 0; z < nz; z++ {
				v := vals[z*planeSize+i]
				if !isNaN32(v) {
					sum += float64(v)
					n++
				}
			}
			if n == 0 {
				out[i] = float32(math.NaN())
			} else {
				out[i] = float32(sum / float64(n))
			}
		}
		return out, nil

	case "max":
		out := make([]float32, planeSize)
		for i := 0; i < planeSize; i++ {
			best := float32(math.NaN())
			for z := 0; z < nz; z++ {
				v := vals[z*planeSize+i]
				if isNaN32(v) {
					continue
				}
				if isNaN32(best) || v > best {
					best = v
				}
			}
			out[i] = best
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown reduce mode %q", how)
	}
}

// bounds computes the display range. Robust bounds clip outliers at
// fixed percentiles so one hot pixel does not wash out the colormap.
func bounds(plane []float32, norm string) (float32, float32) {
	valid := make([]float64, 0, len(plane))
	for _, v := range plane {
		if !isNaN32(v) {
			valid = append(valid, float64(v))
		}
	}
	if len(valid) == 0 {
		return 0, 0
	}
	sort.Float64s(valid)

	switch norm {
	case "robust":
		lo := stat.Quantile(robustLo, stat.Empirical, valid, nil)
		hi := stat.Quantile(robustHi, stat.Empirical, valid, nil)
		if lo > hi {
			lo, hi = hi, lo
		}
		return float32(lo), float32(hi)
	default: // minmax
		return float32(valid[0]), float32(valid[len(valid)-1])
	}
}

func isNaN32(v float32) bool { return v != v }
