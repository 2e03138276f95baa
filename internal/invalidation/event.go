// Package invalidation defines the dataset-update event that external
// pipelines publish when a simulation archive changes on disk.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

// Ops. An append adds new time steps to the archive; existing output
// files are untouched. A rewrite replaces files in place, so anything
// derived from them is stale.
const (
	OpAppend  = "append"
	OpRewrite = "rewrite"
)

type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	Simulation string    `json:"simulation"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpAppend, OpRewrite:
	default:
		return fmt.Errorf("op must be append|rewrite")
	}
	if strings.TrimSpace(e.Simulation) == "" {
		return fmt.Errorf("simulation is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
