package moonraker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap/zaptest"
)

// fakeMoonraker emulates the few Moonraker endpoints the driver uses. G1
// lines update the toolhead the way Klipper would.
type fakeMoonraker struct {
	mu       sync.Mutex
	position []float64
	relative bool
	scripts  []string
	state    string
	failNext bool
	apiKey   string
}

func (f *fakeMoonraker) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/printer/info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeResult(w, map[string]string{"state": f.state, "software_version": "v0.12.0"})
	})

	mux.HandleFunc("/printer/objects/query", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeResult(w, map[string]any{
			"eventtime": 1.0,
			"status": map[string]any{
				"toolhead": map[string]any{"position": append(slices.Clone(f.position), 0)},
			},
		})
	})

	mux.HandleFunc("/printer/gcode/script", func(w http.ResponseWriter, r *http.Request) {
		if f.apiKey != "" && r.Header.Get("X-Api-Key") != f.apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 401, "message": "Unauthorized"}})
			return
		}

		var body struct {
			Script string `json:"script"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("invalid gcode request: %v", err)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		f.scripts = append(f.scripts, body.Script)

		if f.failNext {
			f.failNext = false
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 400, "message": "Move out of range"}})
			return
		}

		for _, line := range strings.Split(body.Script, "\n") {
			f.apply(line)
		}
		writeResult(w, "ok")
	})

	return mux
}

func (f *fakeMoonraker) apply(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "G90":
		f.relative = false
	case "G91":
		f.relative = true
	case "G1":
		for _, field := range fields[1:] {
			idx := strings.Index("XYZ", field[:1])
			if idx < 0 {
				continue
			}
			var v float64
			json.Unmarshal([]byte(field[1:]), &v)
			if f.relative {
				f.position[idx] += v
			} else {
				f.position[idx] = v
			}
		}
	case "SET_KINEMATIC_POSITION":
		f.position = []float64{0, 0, 0}
	}
}

func (f *fakeMoonraker) lastScript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) == 0 {
		return ""
	}
	return f.scripts[len(f.scripts)-1]
}

func (f *fakeMoonraker) firstScript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) == 0 {
		return ""
	}
	return f.scripts[0]
}

func (f *fakeMoonraker) setState(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func newTestDriver(t *testing.T, fake *fakeMoonraker, cfg Config) (*Driver, *stage.Stage) {
	t.Helper()

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	logger := zaptest.NewLogger(t)

	d := New(cfg, stage.DefaultAxes(), logger)
	s, err := stage.New("pico", d, logger, stage.WithInversion(map[string]bool{"x": true, "z": true}))
	if err != nil {
		t.Fatalf("stage.New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return d, s
}

func TestMoveUsesDeviceReadback(t *testing.T) {
	fake := &fakeMoonraker{state: "ready", position: []float64{1.4, 2.6, 0}}
	_, s := newTestDriver(t, fake, Config{Speed: 1000, Acceleration: 15000})
	ctx := context.Background()

	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := s.Hardware().Position(); !got.Equal(stage.Position{"x": 1, "y": 3, "z": 0}) {
		t.Errorf("hardware position after connect = %v", got)
	}

	if err := s.MoveRelative(ctx, stage.Position{"x": 10, "z": 2}, false); err != nil {
		t.Fatalf("MoveRelative failed: %v", err)
	}

	if last := fake.lastScript(); last != "G91\nG1 X-10 Y0 Z-2 F1000\nM400" {
		t.Errorf("script = %q", last)
	}
	if !strings.HasPrefix(fake.firstScript(), "SET_VELOCITY_LIMIT ACCEL=15000") {
		t.Errorf("acceleration not applied: %q", fake.firstScript())
	}

	// 1.4 - 10 = -8.6 rounds to -9
	if got := s.Hardware().Position(); !got.Equal(stage.Position{"x": -9, "y": 3, "z": -2}) {
		t.Errorf("hardware position = %v", got)
	}
	if got := s.Position(); !got.Equal(stage.Position{"x": 9, "y": 3, "z": 2}) {
		t.Errorf("program position = %v", got)
	}
}

func TestMoveAbsolute(t *testing.T) {
	fake := &fakeMoonraker{state: "ready", position: []float64{0, 0, 0}}
	_, s := newTestDriver(t, fake, Config{})
	ctx := context.Background()

	if err := s.MoveAbsolute(ctx, stage.Position{"x": 5, "y": 6}, false); err != nil {
		t.Fatalf("MoveAbsolute failed: %v", err)
	}
	if got := fake.lastScript(); got != "G90\nG1 X-5 Y6 Z0\nM400" {
		t.Errorf("script = %q", got)
	}
	if got := s.Position(); !got.Equal(stage.Position{"x": 5, "y": 6, "z": 0}) {
		t.Errorf("program position = %v", got)
	}
}

func TestAPIErrors(t *testing.T) {
	fake := &fakeMoonraker{state: "ready", position: []float64{3, 0, 0}, failNext: true}
	_, s := newTestDriver(t, fake, Config{})

	err := s.MoveRelative(context.Background(), stage.Position{"y": 1000}, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Move out of range" {
		t.Errorf("api error = %+v", apiErr)
	}
	if s.Moving() {
		t.Error("stage still moving after failed move")
	}
	// readback after the failure
	if got := s.Hardware().Position(); !got.Equal(stage.Position{"x": 3, "y": 0, "z": 0}) {
		t.Errorf("hardware position = %v", got)
	}
}

func TestAPIKey(t *testing.T) {
	fake := &fakeMoonraker{state: "ready", position: []float64{0, 0, 0}, apiKey: "secret"}

	_, s := newTestDriver(t, fake, Config{})
	err := s.MoveRelative(context.Background(), stage.Position{"x": 1}, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error without key = %v", err)
	}

	_, s = newTestDriver(t, fake, Config{APIKey: "secret"})
	if err := s.MoveRelative(context.Background(), stage.Position{"x": 1}, false); err != nil {
		t.Fatalf("MoveRelative with key failed: %v", err)
	}
}

func TestSetZeroAndFirmware(t *testing.T) {
	fake := &fakeMoonraker{state: "ready", position: []float64{7, 8, 9}}
	d, s := newTestDriver(t, fake, Config{})
	ctx := context.Background()

	if err := s.SetZeroPosition(ctx); err != nil {
		t.Fatalf("SetZeroPosition failed: %v", err)
	}
	if got := fake.lastScript(); got != "SET_KINEMATIC_POSITION X=0 Y=0 Z=0 SET_HOMED=XYZ" {
		t.Errorf("script = %q", got)
	}
	if got := s.Position(); !got.Equal(stage.Position{"x": 0, "y": 0, "z": 0}) {
		t.Errorf("position after zero = %v", got)
	}

	fake.setState("shutdown")
	if err := d.CheckFirmware(ctx); err == nil {
		t.Error("CheckFirmware accepted a shut down printer")
	}
}

func TestConfigURL(t *testing.T) {
	if got := (Config{BaseURL: "http://127.0.0.1/", Port: 7125}).URL(); got != "http://127.0.0.1:7125" {
		t.Errorf("URL = %q", got)
	}
	if got := (Config{BaseURL: "http://pico.local"}).URL(); got != "http://pico.local" {
		t.Errorf("URL = %q", got)
	}
}
