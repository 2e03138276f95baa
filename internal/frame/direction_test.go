package frame

import "testing"

func TestDirectionStep(t *testing.T) {
	cases := []struct {
		dir  Direction
		step int
		name string
	}{
		{Forward, 1, "forward"},
		{Backward, -1, "backward"},
		{Stationary, 1, "stationary"},
	}
	for _, c := range cases {
		if c.dir.Step() != c.step {
			t.Fatalf("%s: step=%d want %d", c.name, c.dir.Step(), c.step)
		}
		if c.dir.String() != c.name {
			t.Fatalf("String()=%q want %q", c.dir.String(), c.name)
		}
	}
}
