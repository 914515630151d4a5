package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/types"
)

func TestParseAxisArgs(t *testing.T) {
	got, err := parseAxisArgs([]string{"x=10", " z = -2.5"})
	if err != nil {
		t.Fatalf("parseAxisArgs failed: %v", err)
	}
	if got["x"] != 10 || got["z"] != -2.5 || len(got) != 2 {
		t.Errorf("parseAxisArgs = %v", got)
	}

	for _, bad := range [][]string{{"x"}, {"=1"}, {"x=a"}, {"x=1", "x=2"}} {
		if _, err := parseAxisArgs(bad); err == nil {
			t.Errorf("parseAxisArgs(%v) accepted", bad)
		}
	}

	if _, err := parseNumbers([]string{"1", "two"}); err == nil {
		t.Error("parseNumbers accepted a word")
	}
}

func TestReadSecret(t *testing.T) {
	got, err := readSecret(strings.NewReader("hunter2\r\nignored\n"))
	if err != nil || got != "hunter2" {
		t.Errorf("readSecret = %q, %v", got, err)
	}
	if _, err := readSecret(strings.NewReader("")); err == nil {
		t.Error("empty input accepted")
	}
}

func TestFormatEvent(t *testing.T) {
	disableColor()

	line := formatEvent(map[string]any{
		"type":     "position",
		"stage":    "sim",
		"position": map[string]any{"y": 2.0, "x": 1.0},
	})
	if !strings.HasSuffix(line, "sim position x=1 y=2") {
		t.Errorf("position line = %q", line)
	}

	line = formatEvent(map[string]any{"type": "moving", "stage": "sim", "moving": true})
	if !strings.HasSuffix(line, "started") {
		t.Errorf("moving line = %q", line)
	}
}

// fakeAPI records requests and answers like the REST server.
type fakeAPI struct {
	mu       sync.Mutex
	requests []string
	bodies   []map[string]any
	auth     string
}

func (f *fakeAPI) handler() http.Handler {
	props := stage.Properties{
		Name:         "sim",
		AxisNames:    []string{"x", "y", "z"},
		Position:     stage.Position{"x": 5, "y": 0, "z": -1},
		AxisInverted: map[string]bool{"x": true, "y": false, "z": false},
	}

	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
		f.auth = r.Header.Get("Authorization")
		var body map[string]any
		if json.NewDecoder(r.Body).Decode(&body) == nil {
			f.bodies = append(f.bodies, body)
		}
	}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/v1/stages/sim", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, props)
	})
	mux.HandleFunc("POST /api/v1/stages/sim/move_relative", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, props)
	})
	mux.HandleFunc("POST /api/v1/stages/sim/set_zero_position", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusForbidden, types.NewErrorResponse("AUTH_403", "insufficient permissions", nil))
	})
	mux.HandleFunc("GET /api/v1/stages/sim/moves", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"moves": []stage.MoveRecord{{
				Stage:     "sim",
				Kind:      stage.MoveRelative,
				Requested: stage.Position{"x": 5},
				Result:    stage.Position{"x": 5, "y": 0, "z": -1},
				StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			}},
			"count": 1,
		})
	})
	return mux
}

func (f *fakeAPI) last() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]any
	if len(f.bodies) > 0 {
		body = f.bodies[len(f.bodies)-1]
	}
	return f.requests[len(f.requests)-1], body
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server, "--token", "osc_test", "--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsAgainstAPI(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "position", "sim")
	if err != nil {
		t.Fatalf("position failed: %v", err)
	}
	if !strings.Contains(out, "sim [idle]") || !strings.Contains(out, "x: 5 (inverted)") {
		t.Errorf("position output = %q", out)
	}
	api.mu.Lock()
	gotAuth := api.auth
	api.mu.Unlock()
	if gotAuth != "Bearer osc_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	if _, err := runCLI(t, srv.URL, "move-rel", "sim", "x=5", "--block-cancellation"); err != nil {
		t.Fatalf("move-rel failed: %v", err)
	}
	req, body := api.last()
	if req != "POST /api/v1/stages/sim/move_relative" {
		t.Errorf("request = %s", req)
	}
	if pos, _ := body["position"].(map[string]any); pos["x"] != 5.0 || body["block_cancellation"] != true {
		t.Errorf("move body = %v", body)
	}

	if _, err := runCLI(t, srv.URL, "move-rel", "sim", "--seq", "1,2,3"); err != nil {
		t.Fatalf("move-rel --seq failed: %v", err)
	}
	if _, body := api.last(); len(body["sequence"].([]any)) != 3 {
		t.Errorf("sequence body = %v", body)
	}

	if _, err := runCLI(t, srv.URL, "move-rel", "sim"); err == nil {
		t.Error("move-rel without target accepted")
	}

	_, err = runCLI(t, srv.URL, "zero", "sim")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "AUTH_403" || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("zero error = %v", err)
	}

	out, err = runCLI(t, srv.URL, "moves", "sim", "-n", "5")
	if err != nil {
		t.Fatalf("moves failed: %v", err)
	}
	if req, _ := api.last(); req != "GET /api/v1/stages/sim/moves?limit=5" {
		t.Errorf("request = %s", req)
	}
	if !strings.Contains(out, "relative x=5 -> x=5 y=0 z=-1") {
		t.Errorf("moves output = %q", out)
	}
}

func TestGenToken(t *testing.T) {
	out, err := runCLI(t, "http://unused", "gen-token")
	if err != nil {
		t.Fatalf("gen-token failed: %v", err)
	}
	if !strings.Contains(out, "token: osc_") || !strings.Contains(out, "token_hash: ") {
		t.Errorf("gen-token output = %q", out)
	}
}
