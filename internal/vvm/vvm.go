// Package vvm defines the seams to the simulation data: the reader
// that supplies lazy data slabs and the processor that turns a slab
// into a render-ready slice. Concrete readers register themselves by
// name; the NetCDF-backed reader ships as a separate module and plugs
// in through the same registry.
package vvm

import (
	"context"
	"errors"

	"github.com/ckhsu/vvmviz/internal/frame"
)

// Slab is a lazily materialized 3-D block of model output for one
// variable at one time step, already trimmed to the requested domain.
// Values runs the actual read; nothing touches disk before that call.
type Slab struct {
	Variable string
	LongName string
	Units    string

	NZ, NY, NX int
	Lat        []float64 // length NY
	Lon        []float64 // length NX

	// Values materializes the block, z-major: index (z*NY+y)*NX+x.
	// Missing points are NaN.
	Values func() ([]float32, error)
}

// VariableInfo describes one variable of a simulation's catalog.
type VariableInfo struct {
	Name     string `json:"name"`
	LongName string `json:"long_name"`
	Units    string `json:"units"`
	Group    string `json:"group"`
	Levels   int    `json:"levels"`
}

// DataAccess supplies simulation data. Implementations must be safe
// for concurrent use: the foreground request path and the prefetch
// workers call Fetch at the same time.
type DataAccess interface {
	// Fetch returns the lazy slab for the key's coordinates.
	// Out-of-range coordinates or I/O failures return an error; the
	// caller wraps it into the frame error taxonomy.
	Fetch(ctx context.Context, sim string, key frame.SliceKey) (*Slab, error)

	// Variables lists the simulation's catalog.
	Variables(ctx context.Context, sim string) ([]VariableInfo, error)

	// TimeSteps reports how many time steps the simulation holds.
	TimeSteps(ctx context.Context, sim string) (int, error)

	Close() error
}

// SliceProcessor reduces a slab to one 2-D slice. Pure and
// deterministic: same slab and overlay parameters, same output.
type SliceProcessor interface {
	Process(slab *Slab, overlay map[string]string) (*frame.Slice, error)
}

// OverlayComposer attaches companion overlay fields that need extra
// reads: wind vectors and contour data. Implemented by processors
// that support them; composition happens before the slice enters the
// cache, so the companions are cached and invalidated with the frame.
type OverlayComposer interface {
	Compose(ctx context.Context, access DataAccess, sim string, key frame.SliceKey, s *frame.Slice) error
}

// ErrOutOfRange is returned by readers for coordinates outside the
// simulation's extent.
var ErrOutOfRange = errors.New("coordinates out of simulation range")

// TerrainVariable is the derived topography field every simulation
// exposes alongside its file-backed variables: terrain height in
// meters, one level, time-invariant. Readers serve it like any other
// variable so the frame path needs no special case.
const TerrainVariable = "terrain_height"
