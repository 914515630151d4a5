package grpcapi

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/auth"
	"github.com/KevinKickass/OpenStageCore/internal/config"
	"github.com/KevinKickass/OpenStageCore/internal/devices"
	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/storage"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const benchProfile = `{
  "stage_profile": {"id": "bench"},
  "driver": {"type": "simulated"},
  "axes": ["x", "y", "z"]
}`

type testEnv struct {
	client   *Client
	conn     *grpc.ClientConn
	manager  *devices.Manager
	streamer *EventStreamer
	apiToken string
}

func newTestEnv(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bench.json"), []byte(benchProfile), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	token, tokenHash, err := auth.GenerateAPIToken()
	if err != nil {
		t.Fatalf("GenerateAPIToken failed: %v", err)
	}

	cfg := config.Default()
	cfg.Stages.ProfilePaths = []string{dir}
	cfg.Stages.PollInterval = 0
	cfg.Stages.Instances = []config.StageInstance{{Name: "main", Profile: "bench"}}
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.APITokens = []config.APITokenConfig{{Name: "op", TokenHash: tokenHash, Permissions: []string{"operator"}}}

	logger := zaptest.NewLogger(t)
	streamer := NewEventStreamer()
	manager, err := devices.NewManager(cfg, storage.NewMemoryStore(), streamer.Broadcast, logger)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := manager.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	authService := auth.NewAuthService(cfg.Auth, logger)
	server, _ := NewServer(NewStageService(manager, streamer, logger), NewAuthorizer(authService))

	lis := bufconn.Listen(1 << 20)
	go server.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient failed: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		server.Stop()
		manager.StopAll(context.Background())
	})

	return &testEnv{
		client:   NewClient(conn),
		conn:     conn,
		manager:  manager,
		streamer: streamer,
		apiToken: token,
	}
}

func positionOf(t *testing.T, s *structpb.Struct) map[string]any {
	t.Helper()
	p, ok := s.AsMap()["position"].(map[string]any)
	if !ok {
		t.Fatalf("no position in %v", s)
	}
	return p
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	return s
}

func TestStageServiceMoves(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	resp, err := env.client.MoveRelative(ctx, mustStruct(t, map[string]any{
		"stage":    "main",
		"position": map[string]any{"x": 10, "y": -4},
	}))
	if err != nil {
		t.Fatalf("MoveRelative failed: %v", err)
	}
	if p := positionOf(t, resp); p["x"] != 10.0 || p["y"] != -4.0 || p["z"] != 0.0 {
		t.Errorf("position = %v", p)
	}

	resp, err = env.client.MoveAbsolute(ctx, mustStruct(t, map[string]any{
		"stage":    "main",
		"sequence": []any{1, 2, 3},
	}))
	if err != nil {
		t.Fatalf("MoveAbsolute failed: %v", err)
	}
	if p := positionOf(t, resp); p["x"] != 1.0 || p["z"] != 3.0 {
		t.Errorf("position = %v", p)
	}

	resp, err = env.client.InvertAxisDirection(ctx, "main", "x")
	if err != nil {
		t.Fatalf("InvertAxisDirection failed: %v", err)
	}
	if p := positionOf(t, resp); p["x"] != -1.0 {
		t.Errorf("x after invert = %v, want -1", p["x"])
	}

	if _, err := env.client.SetZeroPosition(ctx, "main"); err != nil {
		t.Fatalf("SetZeroPosition failed: %v", err)
	}
	resp, err = env.client.GetPosition(ctx, "main")
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if p := positionOf(t, resp); p["x"] != 0.0 || p["y"] != 0.0 || p["z"] != 0.0 {
		t.Errorf("position after zero = %v", p)
	}

	list, err := env.client.ListStages(ctx)
	if err != nil {
		t.Fatalf("ListStages failed: %v", err)
	}
	stages, _ := list.AsMap()["stages"].([]any)
	if len(stages) != 1 || stages[0].(map[string]any)["name"] != "main" {
		t.Errorf("ListStages = %v", list.AsMap())
	}
}

func TestStageServiceErrors(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "unknown stage",
			call: func() error { _, err := env.client.GetPosition(ctx, "nope"); return err },
			want: codes.NotFound,
		},
		{
			name: "fractional",
			call: func() error {
				_, err := env.client.MoveRelative(ctx, mustStruct(t, map[string]any{
					"stage": "main", "position": map[string]any{"x": 0.5},
				}))
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "out of range",
			call: func() error {
				_, err := env.client.MoveAbsolute(ctx, mustStruct(t, map[string]any{
					"stage": "main", "position": map[string]any{"y": 1e12},
				}))
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown axis",
			call: func() error {
				_, err := env.client.MoveRelative(ctx, mustStruct(t, map[string]any{
					"stage": "main", "position": map[string]any{"w": 1},
				}))
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "length mismatch",
			call: func() error {
				_, err := env.client.MoveAbsolute(ctx, mustStruct(t, map[string]any{
					"stage": "main", "sequence": []any{1},
				}))
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "invert unknown axis",
			call: func() error { _, err := env.client.InvertAxisDirection(ctx, "main", "q"); return err },
			want: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatchPosition(t *testing.T) {
	env := newTestEnv(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan map[string]any, 32)
	done := make(chan error, 1)
	go func() {
		done <- env.client.WatchPosition(ctx, "main", func(s *structpb.Struct) error {
			events <- s.AsMap()
			return nil
		})
	}()

	// snapshot first
	first := <-events
	if first["type"] != string(stage.EventPosition) {
		t.Fatalf("first event = %v", first)
	}

	// the subscription is registered right after the snapshot is sent
	deadline := time.Now().Add(2 * time.Second)
	for env.streamer.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	st, _ := env.manager.GetStage("main")
	if err := st.MoveRelative(ctx, stage.Position{"y": 7}, false); err != nil {
		t.Fatalf("MoveRelative failed: %v", err)
	}

	for {
		select {
		case e := <-events:
			if e["type"] != string(stage.EventPosition) {
				continue
			}
			if p := e["position"].(map[string]any); p["y"] == 7.0 {
				cancel()
				<-done
				return
			}
		case <-ctx.Done():
			t.Fatal("no position event for the move")
		}
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	if _, err := env.client.GetPosition(ctx, "main"); status.Code(err) != codes.Unauthenticated {
		t.Errorf("no token = %v", err)
	}

	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+env.apiToken)
	if _, err := env.client.GetPosition(authed, "main"); err != nil {
		t.Errorf("operator GetPosition failed: %v", err)
	}
	if _, err := env.client.SetZeroPosition(authed, "main"); status.Code(err) != codes.PermissionDenied {
		t.Errorf("operator SetZeroPosition = %v", err)
	}

	// health stays reachable without a token
	resp, err := healthpb.NewHealthClient(env.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health status = %v", resp.GetStatus())
	}
}

func TestEventStreamer(t *testing.T) {
	s := NewEventStreamer()
	one := s.Subscribe("a")
	all := s.Subscribe("")

	s.Broadcast(stage.Event{Type: stage.EventMoving, Stage: "a", Moving: true})
	s.Broadcast(stage.Event{Type: stage.EventMoving, Stage: "b", Moving: true})

	if len(one) != 1 {
		t.Errorf("stage subscriber got %d events, want 1", len(one))
	}
	if len(all) != 2 {
		t.Errorf("wildcard subscriber got %d events, want 2", len(all))
	}

	s.Unsubscribe("a", one)
	if _, ok := <-one; !ok {
		// buffered event is still delivered before the close
		t.Error("buffered event lost on unsubscribe")
	}
	if _, ok := <-one; ok {
		t.Error("channel not closed after unsubscribe")
	}
	if s.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d", s.SubscriberCount())
	}
}
