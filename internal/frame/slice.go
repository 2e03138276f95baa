package frame

// Slice is one render-ready 2-D array: the result of reducing, unit
// converting and normalizing a raw data slab. Once built it is never
// mutated; readers share the same backing array.
type Slice struct {
	Variable string
	LongName string
	Units    string

	NY, NX int
	Lat    []float64 // length NY
	Lon    []float64 // length NX
	Values []float32 // row-major, index y*NX+x

	// Display bounds after the normalization policy was applied.
	Min, Max float32

	// Overlay companions on the same grid, present only when the key's
	// overlay parameters asked for them.
	WindU, WindV []float32
	Contour      []float32
	ContourVar   string
}

func (s *Slice) At(y, x int) float32 {
	return s.Values[y*s.NX+x]
}

// SizeBytes estimates the memory held by the slice, used for cache
// accounting.
func (s *Slice) SizeBytes() int64 {
	n := int64(len(s.Values)+len(s.WindU)+len(s.WindV)+len(s.Contour)) * 4
	n += int64(len(s.Lat)+len(s.Lon)) * 8
	n += int64(len(s.Variable) + len(s.LongName) + len(s.Units) + len(s.ContourVar))
	return n
}
