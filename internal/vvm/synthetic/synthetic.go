// Package synthetic is a self-contained DataAccess used for demos,
// load generation and tests. Fields are procedural but deterministic:
// the same key always materializes the same slab, which is what the
// cache layers need to be exercised meaningfully.
package synthetic

import (
	"context"
	"fmt"
	"math"

	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/vvm"
)

const (
	gridStep  = 0.02 // degrees per grid point
	timeSteps = 144  // one simulated day at 10-minute output
	levels    = 40
)

func init() {
	vvm.Register("synthetic", func(cfg vvm.ReaderConfig) (vvm.DataAccess, error) {
		return New(), nil
	})
}

type variable struct {
	longName string
	units    string
	group    string
	levels   int
	base     float32
	amp      float32
	phase    float64
}

var catalog = map[string]variable{
	"th":    {"Potential Temperature", "K", "L.Thermodynamic", levels, 300, 12, 0.0},
	"qv":    {"Water Vapor Mixing Ratio", "kg/kg", "L.Thermodynamic", levels, 0.012, 0.008, 1.3},
	"qc":    {"Cloud Water Mixing Ratio", "kg/kg", "L.Thermodynamic", levels, 0.0004, 0.0004, 2.1},
	"w":     {"Vertical Velocity", "m/s", "L.Dynamic", levels, 0, 3, 0.7},
	"u":     {"Zonal Wind", "m/s", "L.Dynamic", levels, 2, 6, 2.9},
	"v":     {"Meridional Wind", "m/s", "L.Dynamic", levels, -1, 5, 4.2},
	"sprec": {"Surface Precipitation Rate", "mm/hr", "C.Surface", 1, 1.5, 1.5, 3.4},

	vvm.TerrainVariable: {"Terrain Height", "m", "Topography", 1, 0, 0, 0},
}

// Reader generates fields analytically. Stateless, so trivially safe
// for concurrent use.
type Reader struct{}

func New() *Reader { return &Reader{} }

func (r *Reader) Variables(_ context.Context, _ string) ([]vvm.VariableInfo, error) {
	out := make([]vvm.VariableInfo, 0, len(catalog))
	for name, v := range catalog {
		out = append(out, vvm.VariableInfo{
			Name:     name,
			LongName: v.longName,
			Units:    v.units,
			Group:    v.group,
			Levels:   v.levels,
		})
	}
	return out, nil
}

func (r *Reader) TimeSteps(_ context.Context, _ string) (int, error) {
	return timeSteps, nil
}

func (r *Reader) Close() error { return nil }

func (r *Reader) Fetch(_ context.Context, _ string, key frame.SliceKey) (*vvm.Slab, error) {
	v, ok := catalog[key.Variable]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", key.Variable)
	}
	if key.TimeIndex < 0 || key.TimeIndex >= timeSteps {
		return nil, fmt.Errorf("time index %d outside [0,%d): %w", key.TimeIndex, timeSteps, vvm.ErrOutOfRange)
	}
	if key.Level != frame.FullColumn && (key.Level < 0 || int(key.Level) >= v.levels) {
		return nil, fmt.Errorf("level %d outside [0,%d): %w", key.Level, v.levels, vvm.ErrOutOfRange)
	}

	d := key.Domain
	latMin, latMax := d.LatMin.Degrees(), d.LatMax.Degrees()
	lonMin, lonMax := d.LonMin.Degrees(), d.LonMax.Degrees()
	if latMin >= latMax || lonMin >= lonMax {
		return nil, fmt.Errorf("empty domain %s: %w", d, vvm.ErrOutOfRange)
	}

	ny := int((latMax-latMin)/gridStep) + 1
	nx := int((lonMax-lonMin)/gridStep) + 1
	lat := make([]float64, ny)
	for i := range lat {
		lat[i] = latMin + float64(i)*gridStep
	}
	lon := make([]float64, nx)
	for i := range lon {
		lon[i] = lonMin + float64(i)*gridStep
	}

	nz := v.levels
	zLo, zHi := 0, nz
	if key.Level != frame.FullColumn {
		zLo, zHi = int(key.Level), int(key.Level)+1
	}
	outNZ := zHi - zLo

	t := key.TimeIndex
	sampleAt := func(z int, la, lo float64) float32 { return sample(v, t, z, la, lo) }
	if key.Variable == vvm.TerrainVariable {
		// Time-invariant and never masked: the terrain is its own mask.
		sampleAt = func(_ int, la, lo float64) float32 { return terrainHeight(la, lo) }
	}
	slab := &vvm.Slab{
		Variable: key.Variable,
		LongName: v.longName,
		Units:    v.units,
		NZ:       outNZ,
		NY:       ny,
		NX:       nx,
		Lat:      lat,
		Lon:      lon,
	}
	slab.Values = func() ([]float32, error) {
		vals := make([]float32, outNZ*ny*nx)
		i := 0
		for z := zLo; z < zHi; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					vals[i] = sampleAt(z, lat[y], lon[x])
					i++
				}
			}
		}
		return vals, nil
	}
	return slab, nil
}

// sample evaluates a smooth field that drifts with time and decays
// with height, with NaN below the procedural terrain.
func sample(v variable, t, z int, lat, lon float64) float32 {
	if z < terrainLevel(lat, lon) {
		return float32(math.NaN())
	}
	phase := v.phase + float64(t)*2*math.Pi/timeSteps
	height := float64(z) / levels
	w := math.Sin(lat*3.1+phase) * math.Cos(lon*2.7-phase*0.5)
	w += 0.4 * math.Sin(lat*11+lon*9+phase*3)
	w *= math.Exp(-1.5 * height)
	return v.base + v.amp*float32(w)
}

// levelDepth is the nominal thickness of one model level in meters,
// used to express the terrain in physical height.
const levelDepth = 400

func terrainHeight(lat, lon float64) float32 {
	return float32(terrainLevel(lat, lon)) * levelDepth
}

// terrainLevel is a fixed analytic mountain range so masked regions
// line up across variables and time steps.
func terrainLevel(lat, lon float64) int {
	h := math.Sin(lat*2.4) * math.Sin(lon*2.9)
	if h < 0 {
		return 0
	}
	return int(h * 6)
}
