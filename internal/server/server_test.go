package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/installer"
	"nithronos/zinstaller/internal/insterr"
	"nithronos/zinstaller/internal/metrics"
	"nithronos/zinstaller/internal/sysinfo"
)

type staticLister []disks.Disk

func (l staticLister) List(context.Context) ([]disks.Disk, error) { return l, nil }

// gatedEngine reports the scripted progress, then blocks until release is
// closed.
type gatedEngine struct {
	steps   []float64
	err     error
	release chan struct{}
	started chan installer.Request
	busy    bool
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{release: make(chan struct{}), started: make(chan installer.Request, 1)}
}

func (g *gatedEngine) Install(ctx context.Context, req installer.Request, progress installer.ProgressFunc) error {
	g.started <- req
	for _, p := range g.steps {
		progress(p, "step")
	}
	<-g.release
	return g.err
}

func (g *gatedEngine) Busy() bool { return g.busy }

func newTestServer(t *testing.T, eng Installer) (*Server, http.Handler) {
	t.Helper()
	s := New(context.Background(), Options{
		Engine: eng,
		Disks: staticLister{
			{Name: "sda", Size: 60 << 30},
			{Name: "sdb", Size: 100 << 30},
		},
		System:  func(context.Context) sysinfo.Info { return sysinfo.Info{Vendor: "TrueNAS", Version: "25.04"} },
		Metrics: metrics.New("test", "abc"),
		Version: "test",
		Log:     zerolog.Nop(),
	})
	return s, s.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(res.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", res.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, newGatedEngine())
	res := do(h, http.MethodGet, "/api/health", "")
	if res.Code != 200 {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]any
	decode(t, res, &body)
	if body["ok"] != true || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSystemAndDisks(t *testing.T) {
	_, h := newTestServer(t, newGatedEngine())
	res := do(h, http.MethodGet, "/api/v1/system", "")
	var info sysinfo.Info
	decode(t, res, &info)
	if info.Vendor != "TrueNAS" {
		t.Fatalf("system = %+v", info)
	}
	res = do(h, http.MethodGet, "/api/v1/disks", "")
	var body struct{ Disks []disks.Disk }
	decode(t, res, &body)
	if len(body.Disks) != 2 || body.Disks[1].Name != "sdb" {
		t.Fatalf("disks = %+v", body.Disks)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, newGatedEngine())
	res := do(h, http.MethodGet, "/metrics", "")
	if res.Code != 200 || !strings.Contains(res.Body.String(), "zinstaller_build_info") {
		t.Fatalf("metrics: %d %s", res.Code, res.Body.String())
	}
}

func TestInstallRejectsInvalidBodies(t *testing.T) {
	_, h := newTestServer(t, newGatedEngine())
	cases := map[string]struct {
		body string
		want string
	}{
		"not json":         {`{`, "install.invalid_json"},
		"no destination":   {`{}`, "install.invalid_request"},
		"empty":            {`{"destination_disks": []}`, "install.invalid_request"},
		"unknown field":    {`{"destination_disks": ["sda"], "force": true}`, "install.invalid_request"},
		"bad auth":         {`{"destination_disks": ["sda"], "authentication": {"username": "x"}}`, "install.invalid_request"},
		"unknown disk":     {`{"destination_disks": ["sdz"]}`, "install.invalid_request"},
		"unknown topology": {`{"destination_disks": ["sda"], "storage_pool": {"topology": "raid5", "disks": ["sdb"]}}`, "install.invalid_request"},
	}
	for name, tc := range cases {
		res := do(h, http.MethodPost, "/api/v1/install", tc.body)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %s", name, res.Code, res.Body.String())
		}
		var body struct{ Error errorPayload }
		decode(t, res, &body)
		if body.Error.Code != tc.want {
			t.Fatalf("%s: code = %q", name, body.Error.Code)
		}
	}
}

func TestInstallJobLifecycle(t *testing.T) {
	eng := newGatedEngine()
	eng.steps = []float64{0.1, 0.5}
	s, h := newTestServer(t, eng)

	body := `{"destination_disks": ["sda"], "authentication": null, "storage_pool": {"topology": "stripe", "disks": ["sdb"]}}`
	res := do(h, http.MethodPost, "/api/v1/install", body)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", res.Code, res.Body.String())
	}
	var job Job
	decode(t, res, &job)
	if job.State != JobRunning || res.Header().Get("Location") != "/api/v1/install/"+job.ID {
		t.Fatalf("job = %+v, location %q", job, res.Header().Get("Location"))
	}
	req := <-eng.started
	if req.DestinationDisks[0].Name != "sda" || req.StoragePool == nil || req.StoragePool.Topology != "STRIPE" || req.Authentication != nil {
		t.Fatalf("request = %+v", req)
	}

	if res := do(h, http.MethodPost, "/api/v1/install", `{"destination_disks": ["sdb"]}`); res.Code != http.StatusConflict {
		t.Fatalf("second install: expected 409, got %d", res.Code)
	}

	close(eng.release)
	s.Wait()

	res = do(h, http.MethodGet, "/api/v1/install/"+job.ID, "")
	decode(t, res, &job)
	if job.State != JobSucceeded || job.Progress != 0.5 || job.FinishedAt == nil {
		t.Fatalf("finished job = %+v", job)
	}
}

func TestInstallJobFailure(t *testing.T) {
	eng := newGatedEngine()
	eng.err = insterr.New("Failed to install GRUB")
	close(eng.release)
	s, h := newTestServer(t, eng)

	res := do(h, http.MethodPost, "/api/v1/install", `{"destination_disks": ["sda"]}`)
	var job Job
	decode(t, res, &job)
	s.Wait()

	res = do(h, http.MethodGet, "/api/v1/install/"+job.ID, "")
	decode(t, res, &job)
	if job.State != JobFailed || job.Error != "Failed to install GRUB" {
		t.Fatalf("job = %+v", job)
	}
}

func TestInstallRefusedWhileEngineBusy(t *testing.T) {
	eng := newGatedEngine()
	eng.busy = true
	_, h := newTestServer(t, eng)
	res := do(h, http.MethodPost, "/api/v1/install", `{"destination_disks": ["sda"]}`)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestUnknownJob(t *testing.T) {
	_, h := newTestServer(t, newGatedEngine())
	for _, p := range []string{"/api/v1/install/nope", "/api/v1/install/nope/events"} {
		if res := do(h, http.MethodGet, p, ""); res.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", p, res.Code)
		}
	}
}

func TestJobEvents(t *testing.T) {
	eng := newGatedEngine()
	eng.steps = []float64{0.1, 0.5}
	close(eng.release)
	s, h := newTestServer(t, eng)

	res := do(h, http.MethodPost, "/api/v1/install", `{"destination_disks": ["sda"]}`)
	var job Job
	decode(t, res, &job)
	s.Wait()

	res = do(h, http.MethodGet, "/api/v1/install/"+job.ID+"/events", "")
	out := res.Body.String()
	if res.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type %q", res.Header().Get("Content-Type"))
	}
	if strings.Count(out, "event: progress") != 2 || !strings.Contains(out, "event: done") || !strings.Contains(out, `"state":"succeeded"`) {
		t.Fatalf("unexpected stream:\n%s", out)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/install/"+job.ID+"/events", nil)
	req.Header.Set("Last-Event-ID", "0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out = rec.Body.String()
	if strings.Count(out, "event: progress") != 1 || !strings.Contains(out, "id: 1\n") {
		t.Fatalf("resumed stream:\n%s", out)
	}
}

func TestJobEventsFollowRunningJob(t *testing.T) {
	eng := newGatedEngine()
	eng.steps = []float64{0.2}
	s, h := newTestServer(t, eng)

	res := do(h, http.MethodPost, "/api/v1/install", `{"destination_disks": ["sda"]}`)
	var job Job
	decode(t, res, &job)
	<-eng.started

	done := make(chan string)
	go func() {
		done <- do(h, http.MethodGet, "/api/v1/install/"+job.ID+"/events", "").Body.String()
	}()
	close(eng.release)
	s.Wait()
	out := <-done
	if !strings.Contains(out, "event: done") {
		t.Fatalf("stream did not end with the job:\n%s", out)
	}
}
