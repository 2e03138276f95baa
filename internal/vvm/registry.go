package vvm

import (
	"fmt"
	"log/slog"
)

// ReaderConfig carries what a reader factory needs to open a data
// source.
type ReaderConfig struct {
	Root   string
	Logger *slog.Logger
}

type Factory func(cfg ReaderConfig) (DataAccess, error)

var readers = map[string]Factory{}

// Register installs a reader factory under a name. Called from init
// in reader packages.
func Register(name string, f Factory) {
	readers[name] = f
}

// NewReader constructs the named reader.
func NewReader(name string, cfg ReaderConfig) (DataAccess, error) {
	f, ok := readers[name]
	if !ok {
		return nil, fmt.Errorf("no data reader registered as %q", name)
	}
	return f(cfg)
}
