package processor

import (
	"context"
	"fmt"

	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/vvm"
)

// Surface winds composite two fixed model levels: the lowest level
// over open water and the first level clear of the terrain over land.
const (
	oceanWindLevel = 1
	landWindLevel  = 2
)

// Compose fetches and attaches the overlay companions the key asks
// for. wind=level reads u/v at the key's own level, wind=surface
// builds the ocean/land composite against the terrain mask, and
// contour=<var> reads a second variable reduced the same way as the
// base slice. All companions share the base grid; a dimension
// mismatch is an error, not a silent crop.
func (p *Processor) Compose(ctx context.Context, access vvm.DataAccess, sim string, key frame.SliceKey, s *frame.Slice) error {
	ov := frame.OverlayValues(key.Overlay)

	switch ov["wind"] {
	case "":
	case "level":
		u, err := p.fetchPlane(ctx, access, sim, key, "u", key.Level, nil)
		if err != nil {
			return err
		}
		v, err := p.fetchPlane(ctx, access, sim, key, "v", key.Level, nil)
		if err != nil {
			return err
		}
		if err := matchGrid(s, len(u), "u"); err != nil {
			return err
		}
		s.WindU, s.WindV = u, v
	case "surface":
		u, v, err := p.surfaceWind(ctx, access, sim, key)
		if err != nil {
			return err
		}
		if err := matchGrid(s, len(u), "surface wind"); err != nil {
			return err
		}
		s.WindU, s.WindV = u, v
	default:
		return fmt.Errorf("unknown wind overlay %q", ov["wind"])
	}

	if cv := ov["contour"]; cv != "" {
		// Column keys carry their reduce mode down to the contour
		// variable so both fields describe the same projection.
		var companion map[string]string
		if r := ov["reduce"]; r != "" {
			companion = map[string]string{"reduce": r}
		}
		vals, err := p.fetchPlane(ctx, access, sim, key, cv, key.Level, companion)
		if err != nil {
			return err
		}
		if err := matchGrid(s, len(vals), cv); err != nil {
			return err
		}
		s.Contour, s.ContourVar = vals, cv
	}
	return nil
}

// fetchPlane loads one companion variable over the key's domain and
// time step and reduces it to a 2-D plane.
func (p *Processor) fetchPlane(ctx context.Context, access vvm.DataAccess, sim string, base frame.SliceKey, variable string, level int32, overlay map[string]string) ([]float32, error) {
	k := frame.NewSliceKey(variable, base.TimeIndex, level, base.Domain, overlay)
	slab, err := access.Fetch(ctx, sim, k)
	if err != nil {
		return nil, fmt.Errorf("fetch %s overlay: %w", variable, err)
	}
	sl, err := p.Process(slab, overlay)
	if err != nil {
		return nil, fmt.Errorf("process %s overlay: %w", variable, err)
	}
	return sl.Values, nil
}

// surfaceWind composites ocean- and land-level winds point by point:
// wherever the terrain rises above sea level the land-level sample
// wins, everywhere else the ocean-level sample does.
func (p *Processor) surfaceWind(ctx context.Context, access vvm.DataAccess, sim string, key frame.SliceKey) ([]float32, []float32, error) {
	terrain, err := p.fetchPlane(ctx, access, sim, key, vvm.TerrainVariable, 0, nil)
	if err != nil {
		return nil, nil, err
	}
	uOcean, err := p.fetchPlane(ctx, access, sim, key, "u", oceanWindLevel, nil)
	if err != nil {
		return nil, nil, err
	}
	vOcean, err := p.fetchPlane(ctx, access, sim, key, "v", oceanWindLevel, nil)
	if err != nil {
		return nil, nil, err
	}
	uLand, err := p.fetchPlane(ctx, access, sim, key, "u", landWindLevel, nil)
	if err != nil {
		return nil, nil, err
	}
	vLand, err := p.fetchPlane(ctx, access, sim, key, "v", landWindLevel, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(uOcean) != len(terrain) || len(uLand) != len(terrain) ||
		len(vOcean) != len(terrain) || len(vLand) != len(terrain) {
		return nil, nil, fmt.Errorf("surface wind components disagree on grid size")
	}

	u := make([]float32, len(terrain))
	v := make([]float32, len(terrain))
	for i, h := range terrain {
		if h > 0 {
			u[i], v[i] = uLand[i], vLand[i]
		} else {
			u[i], v[i] = uOcean[i], vOcean[i]
		}
	}
	return u, v, nil
}

func matchGrid(s *frame.Slice, n int, what string) error {
	if n != s.NY*s.NX {
		return fmt.Errorf("%s overlay has %d points, base grid is %dx%d", what, n, s.NY, s.NX)
	}
	return nil
}
