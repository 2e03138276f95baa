package health

import (
	"net/http"
	"sync"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Readiness aggregates named checks; all must pass. Optional
// components (say the Kafka consumer when invalidation is disabled)
// simply never register.
type Readiness struct {
	mu     sync.Mutex
	checks map[string]func() bool
}

func NewReadiness() *Readiness {
	return &Readiness{checks: map[string]func() bool{}}
}

func (r *Readiness) Register(name string, check func() bool) {
	r.mu.Lock()
	r.checks[name] = check
	r.mu.Unlock()
}

func (r *Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		var failed string
		for name, check := range r.checks {
			if !check() {
				failed = name
				break
			}
		}
		r.mu.Unlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if failed != "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + failed))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
