package frame

// Direction is the playback direction along the time axis, derived
// from consecutive resolved keys and fed to the prefetch scheduler.
type Direction int

const (
	Stationary Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "stationary"
	}
}

// Step is the time-index increment for one frame in this direction.
// Stationary steps forward: when the viewer has just landed somewhere,
// the next frame is the best guess.
func (d Direction) Step() int {
	if d == Backward {
		return -1
	}
	return 1
}
