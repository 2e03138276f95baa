// Package archive discovers VVM simulations on disk and scans their
// output inventory. Everything here works off filenames in a
// simulation's archive/ directory; decoding the NetCDF payloads is the
// data reader's job.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Output files look like <sim>.L.Thermodynamic-000042.nc: a group name
// with a C. (constant/surface) or L. (level) prefix, then the
// zero-padded time index.
var groupFileRe = regexp.MustCompile(`\.([CL]\.[A-Za-z0-9]+)-(\d{6})\.nc$`)

type Simulation struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ListSimulations returns every directory under root that carries an
// archive/ subdirectory, sorted by name. A missing root is an empty
// listing, not an error: the data volume may not be mounted yet.
func ListSimulations(root string) ([]Simulation, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data root: %w", err)
	}

	var sims []Simulation
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(root, e.Name())
		if st, err := os.Stat(filepath.Join(p, "archive")); err != nil || !st.IsDir() {
			continue
		}
		sims = append(sims, Simulation{Name: e.Name(), Path: p})
	}
	sort.Slice(sims, func(i, j int) bool { return sims[i].Name < sims[j].Name })
	return sims, nil
}

type Group struct {
	Name      string `json:"name"`
	TimeSteps int    `json:"time_steps"`
}

// Catalog is the scanned inventory of one simulation.
type Catalog struct {
	Simulation string  `json:"simulation"`
	Groups     []Group `json:"groups"`
}

// TimeSteps is the playback extent: the largest step count across
// groups (constant-field groups only write step zero).
func (c *Catalog) TimeSteps() int {
	max := 0
	for _, g := range c.Groups {
		if g.TimeSteps > max {
			max = g.TimeSteps
		}
	}
	return max
}

// Scan inventories simPath/archive. Step counts come from the highest
// time index seen per group, so a partially written step still counts;
// the reader reports DataUnavailable if the file is incomplete.
func Scan(simPath string) (*Catalog, error) {
	dir := filepath.Join(simPath, "archive")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	steps := map[string]int{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := groupFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		group := m[1]
		idx := 0
		fmt.Sscanf(m[2], "%d", &idx)
		if idx+1 > steps[group] {
			steps[group] = idx + 1
		}
	}

	c := &Catalog{Simulation: filepath.Base(simPath)}
	for g, n := range steps {
		c.Groups = append(c.Groups, Group{Name: g, TimeSteps: n})
	}
	if len(c.Groups) > 0 {
		// Terrain height is derived from the grid files rather than
		// written per step, so it never shows up in the scan. Surface
		// it as its own group.
		c.Groups = append(c.Groups, Group{Name: "Topography", TimeSteps: 1})
	}
	sort.Slice(c.Groups, func(i, j int) bool { return c.Groups[i].Name < c.Groups[j].Name })
	return c, nil
}
