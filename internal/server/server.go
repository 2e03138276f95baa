// Package server wires the HTTP surface of the dashboard backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ckhsu/vvmviz/internal/cache/coordinator"
	"github.com/ckhsu/vvmviz/internal/config"
	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/health"
	imw "github.com/ckhsu/vvmviz/internal/middleware"
	"github.com/ckhsu/vvmviz/internal/router"
	"github.com/ckhsu/vvmviz/internal/telemetry"
	"github.com/ckhsu/vvmviz/internal/vvm"
	"github.com/ckhsu/vvmviz/internal/vvm/archive"
)

type Deps struct {
	Coordinator *coordinator.Coordinator
	Reader      vvm.DataAccess
	Readiness   *health.Readiness
}

// jsonValue renders NaN (masked terrain points) as JSON null, which
// encoding/json refuses to do for a bare float.
type jsonValue float32

func (v jsonValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

type frameResponse struct {
	Variable  string      `json:"variable"`
	LongName  string      `json:"long_name,omitempty"`
	Units     string      `json:"units"`
	TimeIndex int         `json:"time_index"`
	Level     int32       `json:"level"`
	NY        int         `json:"ny"`
	NX        int         `json:"nx"`
	Lat       []float64   `json:"lat"`
	Lon       []float64   `json:"lon"`
	Values    []jsonValue `json:"values"`
	Min       float32     `json:"min"`
	Max       float32     `json:"max"`

	WindU      []jsonValue `json:"wind_u,omitempty"`
	WindV      []jsonValue `json:"wind_v,omitempty"`
	Contour    []jsonValue `json:"contour,omitempty"`
	ContourVar string      `json:"contour_variable,omitempty"`
}

func jsonValues(vs []float32) []jsonValue {
	if vs == nil {
		return nil
	}
	out := make([]jsonValue, len(vs))
	for i, v := range vs {
		out[i] = jsonValue(v)
	}
	return out
}

type simulationInfo struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Handler builds the full route tree.
func Handler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	defaultDomain := frame.NewDomain(
		cfg.DomainLatMin, cfg.DomainLatMax, cfg.DomainLonMin, cfg.DomainLonMax)

	r := chi.NewRouter()
	r.Use(imw.Recover(logger))
	r.Use(imw.Logging(logger))
	r.Use(imw.CORS())

	r.Get("/livez", health.Liveness())
	r.Get("/healthz", d.Readiness.Handler())
	if cfg.MetricsEnabled {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	r.Get("/frame", func(w http.ResponseWriter, req *http.Request) {
		key, err := router.ParseFrameRequest(req, defaultDomain)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		outcome := "miss"
		if d.Coordinator.Cached(key) {
			outcome = "hit"
		}
		start := time.Now()
		s, err := d.Coordinator.Resolve(req.Context(), key)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		telemetry.Publish(telemetry.FromKey(key, d.Coordinator.Simulation(), outcome, time.Since(start)))

		writeJSON(w, http.StatusOK, frameResponse{
			Variable:   s.Variable,
			LongName:   s.LongName,
			Units:      s.Units,
			TimeIndex:  key.TimeIndex,
			Level:      key.Level,
			NY:         s.NY,
			NX:         s.NX,
			Lat:        s.Lat,
			Lon:        s.Lon,
			Values:     jsonValues(s.Values),
			Min:        s.Min,
			Max:        s.Max,
			WindU:      jsonValues(s.WindU),
			WindV:      jsonValues(s.WindV),
			Contour:    jsonValues(s.Contour),
			ContourVar: s.ContourVar,
		})
	})

	r.Get("/simulations", func(w http.ResponseWriter, req *http.Request) {
		sims, err := archive.ListSimulations(cfg.DataRoot)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		active := d.Coordinator.Simulation()
		out := make([]simulationInfo, 0, len(sims))
		for _, s := range sims {
			out = append(out, simulationInfo{Name: s.Name, Active: s.Name == active})
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/variables", func(w http.ResponseWriter, req *http.Request) {
		vars, err := d.Reader.Variables(req.Context(), d.Coordinator.Simulation())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, vars)
	})

	r.Post("/invalidate", func(w http.ResponseWriter, req *http.Request) {
		d.Coordinator.Invalidate("manual")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "invalidated"})
	})

	return r
}

// Run serves the handler until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Handler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func statusFor(err error) int {
	switch {
	case frame.IsDataUnavailable(err):
		return http.StatusNotFound
	case frame.IsProcessingError(err):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
