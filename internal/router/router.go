package router

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ckhsu/vvmviz/internal/frame"
)

var validVariable = func() func(string) bool {
	// Variable names come straight from NetCDF headers; keep the same
	// shape here so a typo never reaches the reader.
	ok := func(r rune) bool {
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_'
	}
	return func(s string) bool {
		if s == "" || len(s) > 64 {
			return false
		}
		for _, r := range s {
			if !ok(r) {
				return false
			}
		}
		return true
	}
}()

// ParseFrameRequest validates user input for /frame and returns the
// normalized cache key. defaultDomain applies when no bbox is given.
func ParseFrameRequest(r *http.Request, defaultDomain frame.Domain) (frame.SliceKey, error) {
	q := r.URL.Query()

	variable := strings.TrimSpace(q.Get("var"))
	if variable == "" {
		return frame.SliceKey{}, errors.New("missing required parameter: var")
	}
	if !validVariable(variable) {
		return frame.SliceKey{}, fmt.Errorf("invalid variable name %q", variable)
	}

	t := 0
	if raw := strings.TrimSpace(q.Get("t")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return frame.SliceKey{}, fmt.Errorf("t must be a non-negative integer, got %q", raw)
		}
		t = v
	}

	level, err := parseLevel(q.Get("z"))
	if err != nil {
		return frame.SliceKey{}, err
	}

	domain := defaultDomain
	if raw := strings.TrimSpace(q.Get("bbox")); raw != "" {
		domain, err = parseBBox(raw)
		if err != nil {
			return frame.SliceKey{}, fmt.Errorf("invalid bbox: %w", err)
		}
	}

	overlay, err := parseOverlay(q, level)
	if err != nil {
		return frame.SliceKey{}, err
	}

	return frame.NewSliceKey(variable, t, level, domain, overlay), nil
}

// parseLevel accepts a model level index or "col" for the whole
// column. Missing z means level 0, the surface.
func parseLevel(raw string) (int32, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return 0, nil
	case "col":
		return frame.FullColumn, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return 0, fmt.Errorf(`z must be a non-negative integer or "col", got %q`, raw)
	}
	return int32(v), nil
}

// parseBBox parses "latMin,latMax,lonMin,lonMax" in degrees.
func parseBBox(raw string) (frame.Domain, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return frame.Domain{}, errors.New("expected 4 comma-separated values: latMin,latMax,lonMin,lonMax")
	}
	vals := make([]float64, 4)
	names := []string{"latMin", "latMax", "lonMin", "lonMax"}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return frame.Domain{}, fmt.Errorf("%s: %w", names[i], err)
		}
		vals[i] = f
	}
	latMin, latMax, lonMin, lonMax := vals[0], vals[1], vals[2], vals[3]
	if !(latMin >= -90 && latMax <= 90) {
		return frame.Domain{}, errors.New("latitude must be in [-90,90]")
	}
	if !(lonMin >= -180 && lonMax <= 180) {
		return frame.Domain{}, errors.New("longitude must be in [-180,180]")
	}
	if latMax <= latMin || lonMax <= lonMin {
		return frame.Domain{}, errors.New("bounds must satisfy latMax>latMin and lonMax>lonMin")
	}
	return frame.NewDomain(latMin, latMax, lonMin, lonMax), nil
}

func parseOverlay(q url.Values, level int32) (map[string]string, error) {
	overlay := map[string]string{}

	reduce := strings.TrimSpace(q.Get("reduce"))
	switch reduce {
	case "", "index":
		if level == frame.FullColumn {
			return nil, errors.New("column selection (z=col) requires reduce=mean or reduce=max")
		}
	case "mean", "max":
		if level != frame.FullColumn {
			return nil, fmt.Errorf("reduce=%s requires z=col", reduce)
		}
		overlay["reduce"] = reduce
	default:
		return nil, fmt.Errorf("reduce must be one of index, mean, max; got %q", reduce)
	}

	switch norm := strings.TrimSpace(q.Get("norm")); norm {
	case "", "minmax":
	case "robust":
		overlay["norm"] = norm
	default:
		return nil, fmt.Errorf("norm must be minmax or robust, got %q", norm)
	}

	switch wind := strings.TrimSpace(q.Get("wind")); wind {
	case "":
	case "level":
		if level == frame.FullColumn {
			return nil, errors.New("wind=level requires a single model level")
		}
		overlay["wind"] = wind
	case "surface":
		overlay["wind"] = wind
	default:
		return nil, fmt.Errorf("wind must be level or surface, got %q", wind)
	}

	if contour := strings.TrimSpace(q.Get("contour")); contour != "" {
		if !validVariable(contour) {
			return nil, fmt.Errorf("invalid contour variable %q", contour)
		}
		overlay["contour"] = contour
	}

	return overlay, nil
}

// BuildFrameQuery encodes a key back into /frame query parameters
// (useful for tests and the load generator).
func BuildFrameQuery(key frame.SliceKey) url.Values {
	params := url.Values{}
	params.Set("var", key.Variable)
	params.Set("t", strconv.Itoa(key.TimeIndex))
	if key.Level == frame.FullColumn {
		params.Set("z", "col")
	} else {
		params.Set("z", strconv.FormatInt(int64(key.Level), 10))
	}
	d := key.Domain
	params.Set("bbox", fmt.Sprintf("%.4f,%.4f,%.4f,%.4f",
		d.LatMin.Degrees(), d.LatMax.Degrees(), d.LonMin.Degrees(), d.LonMax.Degrees()))
	for k, v := range frame.OverlayValues(key.Overlay) {
		params.Set(k, v)
	}
	return params
}
