package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/types"
	"resty.dev/v3"
)

// APIError is a non-2xx reply of the REST API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    any
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (http %d): %s", e.Code, e.StatusCode, e.Message)
	if e.Details != nil {
		msg += fmt.Sprintf(": %v", e.Details)
	}
	return msg
}

// APIClient calls the /api/v1 REST endpoints.
type APIClient struct {
	http *resty.Client
}

func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/") + "/api/v1").
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	if token != "" {
		c.SetHeader("Authorization", "Bearer "+token)
	}
	return &APIClient{http: c}
}

func (c *APIClient) Close() error {
	return c.http.Close()
}

type stageList struct {
	Stages []stage.Properties `json:"stages"`
	Count  int                `json:"count"`
}

type moveList struct {
	Moves []stage.MoveRecord `json:"moves"`
	Count int                `json:"count"`
}

type xyzBody struct {
	XYZ [3]int `json:"xyz"`
}

func (c *APIClient) ListStages(ctx context.Context) ([]stage.Properties, error) {
	var out stageList
	if err := c.do(ctx, http.MethodGet, "/stages", nil, &out); err != nil {
		return nil, err
	}
	return out.Stages, nil
}

func (c *APIClient) GetStage(ctx context.Context, name string) (*stage.Properties, error) {
	var out stage.Properties
	if err := c.do(ctx, http.MethodGet, "/stages/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Move sends a relative or absolute move. Exactly one of position and
// sequence must be set.
func (c *APIClient) Move(ctx context.Context, name string, kind stage.MoveKind, position map[string]float64, sequence []float64, blockCancellation bool) (*stage.Properties, error) {
	body := map[string]any{"block_cancellation": blockCancellation}
	if position != nil {
		body["position"] = position
	}
	if sequence != nil {
		body["sequence"] = sequence
	}

	path := "/stages/" + name + "/move_relative"
	if kind == stage.MoveAbsolute {
		path = "/stages/" + name + "/move_absolute"
	}

	var out stage.Properties
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) InvertAxis(ctx context.Context, name, axis string) (*stage.Properties, error) {
	var out stage.Properties
	if err := c.do(ctx, http.MethodPost, "/stages/"+name+"/invert_axis_direction", map[string]string{"axis": axis}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) SetZero(ctx context.Context, name string) (*stage.Properties, error) {
	var out stage.Properties
	if err := c.do(ctx, http.MethodPost, "/stages/"+name+"/set_zero_position", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) GetXYZ(ctx context.Context, name string) ([3]int, error) {
	var out xyzBody
	err := c.do(ctx, http.MethodGet, "/stages/"+name+"/xyz_position", nil, &out)
	return out.XYZ, err
}

func (c *APIClient) MoveToXYZ(ctx context.Context, name string, xyz [3]float64) ([3]int, error) {
	var out xyzBody
	err := c.do(ctx, http.MethodPost, "/stages/"+name+"/xyz_position", map[string]any{"xyz": xyz[:]}, &out)
	return out.XYZ, err
}

func (c *APIClient) ListMoves(ctx context.Context, name string, limit int) ([]stage.MoveRecord, error) {
	var out moveList
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit))
	if err := c.send(req, http.MethodGet, "/stages/"+name+"/moves", &out); err != nil {
		return nil, err
	}
	return out.Moves, nil
}

// Login exchanges credentials for an access token.
func (c *APIClient) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	return c.send(req, method, path, out)
}

func (c *APIClient) send(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	raw := []byte(resp.String())
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Code: "HTTP_" + strconv.Itoa(resp.StatusCode())}
		var er types.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Code != "" {
			apiErr.Code = er.Error.Code
			apiErr.Message = er.Error.Message
			apiErr.Details = er.Error.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: invalid reply: %w", method, path, err)
	}
	return nil
}
