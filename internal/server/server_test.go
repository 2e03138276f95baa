package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ckhsu/vvmviz/internal/cache/coordinator"
	"github.com/ckhsu/vvmviz/internal/cache/framecache"
	"github.com/ckhsu/vvmviz/internal/config"
	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/health"
	"github.com/ckhsu/vvmviz/internal/processor"
	"github.com/ckhsu/vvmviz/internal/vvm"
	"github.com/ckhsu/vvmviz/internal/vvm/synthetic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHandler(t *testing.T, cfg config.Config) (http.Handler, *coordinator.Coordinator) {
	t.Helper()
	fc, err := framecache.New(16, nil)
	if err != nil {
		t.Fatal(err)
	}
	reader := synthetic.New()
	coord := coordinator.New(fc, nil, reader, processor.New(), nil)
	coord.SetSimulation("demo")
	ready := health.NewReadiness()
	return Handler(cfg, testLogger(), Deps{
		Coordinator: coord,
		Reader:      reader,
		Readiness:   ready,
	}), coord
}

func testConfig(t *testing.T) config.Config {
	root := t.TempDir()
	for _, sim := range []string{"tpe20110802cln", "tpe20140525nor"} {
		if err := os.MkdirAll(filepath.Join(root, sim, "archive"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.FromEnv()
	cfg.DataRoot = root
	return cfg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestFrameEndpoint(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))

	rr := get(t, h, "/frame?var=th&t=3&z=0&bbox=22.0,22.2,120.0,120.2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp frameResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Variable != "th" || resp.TimeIndex != 3 {
		t.Fatalf("unexpected response identity: %+v", resp)
	}
	if resp.NY*resp.NX != len(resp.Values) {
		t.Fatalf("values length %d for %dx%d grid", len(resp.Values), resp.NY, resp.NX)
	}
	if len(resp.Lat) != resp.NY || len(resp.Lon) != resp.NX {
		t.Fatalf("coordinate arrays: lat=%d lon=%d", len(resp.Lat), len(resp.Lon))
	}
}

func TestFrameEndpointColumnReduce(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))
	rr := get(t, h, "/frame?var=qc&t=0&z=col&reduce=max&norm=robust&bbox=22.0,22.2,120.0,120.2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestFrameEndpointWindAndContourOverlays(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))
	rr := get(t, h, "/frame?var=th&t=0&z=0&wind=surface&contour=w&bbox=22.0,22.2,120.0,120.2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp frameResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	n := resp.NY * resp.NX
	if len(resp.WindU) != n || len(resp.WindV) != n {
		t.Fatalf("wind companions: u=%d v=%d grid=%d", len(resp.WindU), len(resp.WindV), n)
	}
	if resp.ContourVar != "w" || len(resp.Contour) != n {
		t.Fatalf("contour companion: var=%q len=%d", resp.ContourVar, len(resp.Contour))
	}

	// A plain request for the same frame carries no companions.
	plain := get(t, h, "/frame?var=th&t=0&z=0&bbox=22.0,22.2,120.0,120.2")
	var plainResp frameResponse
	if err := json.Unmarshal(plain.Body.Bytes(), &plainResp); err != nil {
		t.Fatal(err)
	}
	if plainResp.WindU != nil || plainResp.Contour != nil {
		t.Fatal("overlay companions leaked into a plain frame")
	}
}

func TestFrameEndpointBadRequest(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))
	for _, q := range []string{
		"/frame",
		"/frame?var=th&t=-1",
		"/frame?var=th&z=col",
	} {
		if rr := get(t, h, q); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", q, rr.Code)
		}
	}
}

func TestFrameEndpointUnknownVariable(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))
	rr := get(t, h, "/frame?var=nosuch&bbox=22.0,22.2,120.0,120.2")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown variable: status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSimulationsEndpoint(t *testing.T) {
	h, coord := testHandler(t, testConfig(t))
	coord.SetSimulation("tpe20110802cln")

	rr := get(t, h, "/simulations")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var sims []simulationInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &sims); err != nil {
		t.Fatal(err)
	}
	if len(sims) != 2 {
		t.Fatalf("sims: %+v", sims)
	}
	for _, s := range sims {
		if s.Active != (s.Name == "tpe20110802cln") {
			t.Fatalf("active flag wrong: %+v", sims)
		}
	}
}

func TestVariablesEndpoint(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))
	rr := get(t, h, "/variables")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var vars []vvm.VariableInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &vars); err != nil {
		t.Fatal(err)
	}
	if len(vars) == 0 {
		t.Fatal("expected a variable catalog")
	}
}

func TestInvalidateEndpoint(t *testing.T) {
	h, coord := testHandler(t, testConfig(t))
	rr := get(t, h, "/frame?var=th&bbox=22.0,22.2,120.0,120.2")
	if rr.Code != http.StatusOK {
		t.Fatalf("warm request: status=%d", rr.Code)
	}

	post := httptest.NewRecorder()
	h.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/invalidate", nil))
	if post.Code != http.StatusAccepted {
		t.Fatalf("invalidate: status=%d", post.Code)
	}

	key := frame.NewSliceKey("th", 0, 0, frame.NewDomain(22.0, 22.2, 120.0, 120.2), nil)
	if coord.Cached(key) {
		t.Fatal("invalidate must drop the warmed frame")
	}
}

func TestHealthz(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))
	if rr := get(t, h, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz: status=%d", rr.Code)
	}
}

func TestLivez(t *testing.T) {
	h, _ := testHandler(t, testConfig(t))
	if rr := get(t, h, "/livez"); rr.Code != http.StatusOK {
		t.Fatalf("livez: status=%d", rr.Code)
	}
}
