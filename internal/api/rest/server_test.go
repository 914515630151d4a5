package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/api/websocket"
	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/devices"
	"github.com/KevinKickass/OpenStageCore/internal/interfaces"
	"github.com/KevinKickass/OpenStageCore/internal/storage"
	"github.com/KevinKickass/OpenStageCore/internal/types"
	"go.uber.org/zap/zaptest"
)

const testProfile = `{
  "stage_profile": {"id": "bench", "vendor": "Test"},
  "driver": {"type": "simulated"},
  "axes": ["x", "y", "z"]
}`

const planarProfile = `stage_profile:
  id: planar
driver:
  type: simulated
axes: [x, y]
`

type fakeLifecycle struct {
	cfg     *config.Config
	store   storage.Store
	devices *devices.Manager
}

func (f *fakeLifecycle) Config() *config.Config             { return f.cfg }
func (f *fakeLifecycle) Storage() storage.Store             { return f.store }
func (f *fakeLifecycle) DeviceManager() *devices.Manager    { return f.devices }
func (f *fakeLifecycle) Shutdown(ctx context.Context) error { return nil }

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:      "running",
		StageCount: len(f.devices.ListStages()),
		Timestamp:  time.Now().Unix(),
	}
}

type testEnv struct {
	server   *Server
	store    *storage.MemoryStore
	apiToken string
}

func newTestEnv(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()

	dir := t.TempDir()
	for name, content := range map[string]string{"bench.json": testProfile, "planar.yaml": planarProfile} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write profile: %v", err)
		}
	}

	cfg := config.Default()
	cfg.Stages.ProfilePaths = []string{dir}
	cfg.Stages.PollInterval = 0
	cfg.Stages.Instances = []config.StageInstance{
		{Name: "main", Profile: "bench"},
		{Name: "table", Profile: "planar"},
	}

	hash, err := auth.NewPasswordHasher().HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	token, tokenHash, err := auth.GenerateAPIToken()
	if err != nil {
		t.Fatalf("GenerateAPIToken failed: %v", err)
	}
	cfg.Auth = config.AuthConfig{
		Enabled:        authEnabled,
		JWTSecretEnv:   "OSC_TEST_UNSET_SECRET",
		AccessTokenTTL: time.Minute,
		Users:          []config.UserConfig{{Username: "tech", PasswordHash: hash, Role: "technician"}},
		APITokens:      []config.APITokenConfig{{Name: "viewer", TokenHash: tokenHash, Permissions: []string{"operator"}}},
	}

	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	manager, err := devices.NewManager(cfg, store, nil, logger)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := manager.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	t.Cleanup(func() { manager.StopAll(context.Background()) })

	authService := auth.NewAuthService(cfg.Auth, logger)
	lm := &fakeLifecycle{cfg: cfg, store: store, devices: manager}
	server := NewServer(cfg, lm, logger, websocket.NewHub(logger, authService), authService)

	return &testEnv{server: server, store: store, apiToken: token}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return out
}

type propertiesBody struct {
	Name         string          `json:"name"`
	AxisNames    []string        `json:"axis_names"`
	Position     map[string]int  `json:"position"`
	Moving       bool            `json:"moving"`
	AxisInverted map[string]bool `json:"axis_inverted"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[types.ErrorResponse](t, w).Error.Code
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t, false)

	if w := env.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/system/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if st := decode[interfaces.SystemStatus](t, w); st.StageCount != 2 {
		t.Errorf("stage_count = %d, want 2", st.StageCount)
	}
}

func TestListAndGetStages(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/stages", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	list := decode[struct {
		Stages []propertiesBody `json:"stages"`
		Count  int              `json:"count"`
	}](t, w)
	if list.Count != 2 || list.Stages[0].Name != "main" || list.Stages[1].Name != "table" {
		t.Errorf("stages = %+v", list)
	}

	w = env.do(t, http.MethodGet, "/api/v1/stages/main", "", nil)
	props := decode[propertiesBody](t, w)
	if strings.Join(props.AxisNames, ",") != "x,y,z" || props.Moving {
		t.Errorf("main = %+v", props)
	}

	w = env.do(t, http.MethodGet, "/api/v1/stages/nope", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "STAGE_404" {
		t.Errorf("unknown stage = %d %s", w.Code, w.Body.String())
	}
}

func TestMoveEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/stages/main/move_relative", "",
		map[string]any{"position": map[string]float64{"x": 10, "z": -3}})
	if w.Code != http.StatusOK {
		t.Fatalf("move_relative = %d: %s", w.Code, w.Body.String())
	}
	if p := decode[propertiesBody](t, w).Position; p["x"] != 10 || p["y"] != 0 || p["z"] != -3 {
		t.Errorf("position after relative move = %v", p)
	}

	w = env.do(t, http.MethodPost, "/api/v1/stages/main/move_absolute", "",
		map[string]any{"sequence": []float64{1, 2, 3}, "block_cancellation": true})
	if w.Code != http.StatusOK {
		t.Fatalf("move_absolute = %d: %s", w.Code, w.Body.String())
	}
	if p := decode[propertiesBody](t, w).Position; p["x"] != 1 || p["y"] != 2 || p["z"] != 3 {
		t.Errorf("position after absolute move = %v", p)
	}

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "fractional", body: map[string]any{"position": map[string]float64{"x": 1.5}}},
		{name: "out of range", body: map[string]any{"position": map[string]float64{"x": 1e12}}},
		{name: "out of range sequence", body: map[string]any{"sequence": []float64{0, -1e12, 0}}},
		{name: "unknown axis", body: map[string]any{"position": map[string]float64{"w": 1}}},
		{name: "short sequence", body: map[string]any{"sequence": []float64{1, 2}}},
		{name: "neither", body: map[string]any{}},
		{name: "both", body: map[string]any{"position": map[string]float64{"x": 1}, "sequence": []float64{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/stages/main/move_relative", "", tt.body)
			if w.Code != http.StatusBadRequest || errorCode(t, w) != "STAGE_400" {
				t.Errorf("got %d %s", w.Code, w.Body.String())
			}
		})
	}

	w = env.do(t, http.MethodGet, "/api/v1/stages/main/moves?limit=10", "", nil)
	moves := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if moves.Count != 2 {
		t.Errorf("journal count = %d, want 2", moves.Count)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/stages/main/moves?limit=x", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
}

func TestInvertAndZero(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(t, http.MethodPost, "/api/v1/stages/main/move_relative", "",
		map[string]any{"position": map[string]float64{"x": 7}})

	w := env.do(t, http.MethodPost, "/api/v1/stages/main/invert_axis_direction", "", map[string]string{"axis": "x"})
	if w.Code != http.StatusOK {
		t.Fatalf("invert = %d: %s", w.Code, w.Body.String())
	}
	props := decode[propertiesBody](t, w)
	if !props.AxisInverted["x"] || props.Position["x"] != -7 {
		t.Errorf("after invert = %+v", props)
	}
	if inv, ok, _ := env.store.LoadAxisInversion(context.Background(), "main"); !ok || !inv["x"] {
		t.Errorf("stored inversion = %v, %v", inv, ok)
	}

	w = env.do(t, http.MethodPost, "/api/v1/stages/main/invert_axis_direction", "", map[string]string{"axis": "q"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invert unknown axis = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/stages/main/set_zero_position", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("zero = %d: %s", w.Code, w.Body.String())
	}
	if p := decode[propertiesBody](t, w).Position; p["x"] != 0 {
		t.Errorf("position after zero = %v", p)
	}
}

func TestXYZPosition(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/stages/main/xyz_position", "", map[string]any{"xyz": []float64{4, 5, 6}})
	if w.Code != http.StatusOK {
		t.Fatalf("post xyz = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/stages/main/xyz_position", "", nil)
	if got := decode[XYZResponse](t, w).XYZ; got != [3]int{4, 5, 6} {
		t.Errorf("xyz = %v", got)
	}

	w = env.do(t, http.MethodGet, "/api/v1/stages/table/xyz_position", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("xyz on planar stage = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/stages/main/xyz_position", "", map[string]any{"xyz": []float64{1, 2}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("short xyz = %d", w.Code)
	}
}

func TestProfiles(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/profiles", "", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if list.Count != 2 {
		t.Errorf("profile count = %d", list.Count)
	}

	w = env.do(t, http.MethodGet, "/api/v1/profiles/planar?format=yaml", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "id: planar") {
		t.Errorf("yaml profile = %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/profiles/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing profile = %d", w.Code)
	}
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t, true)

	if w := env.do(t, http.MethodGet, "/api/v1/stages", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/stages", env.apiToken, nil); w.Code != http.StatusOK {
		t.Errorf("operator token list = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/stages/main/set_zero_position", env.apiToken, nil); w.Code != http.StatusForbidden {
		t.Errorf("operator zero = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "tech", Password: "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "tech", Password: "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	login := decode[LoginResponse](t, w)
	if login.TokenType != "Bearer" || login.ExpiresIn != 60 {
		t.Errorf("login response = %+v", login)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/stages/main/set_zero_position", login.AccessToken, nil); w.Code != http.StatusOK {
		t.Errorf("technician zero = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/stages/main/invert_axis_direction", login.AccessToken,
		map[string]string{"axis": "x"}); w.Code != http.StatusForbidden {
		t.Errorf("technician invert = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/auth/me", login.AccessToken, nil)
	if me := decode[auth.Identity](t, w); me.Name != "tech" {
		t.Errorf("me = %+v", me)
	}
}
