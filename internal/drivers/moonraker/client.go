package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// APIError is returned for non-2xx replies and for replies carrying an
// "error" object.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("moonraker: http %d", e.StatusCode)
	}
	return fmt.Sprintf("moonraker: http %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PrinterInfo is the reply of /printer/info.
type PrinterInfo struct {
	State           string `json:"state"`
	StateMessage    string `json:"state_message"`
	Hostname        string `json:"hostname"`
	SoftwareVersion string `json:"software_version"`
}

// Client talks to the Moonraker JSON API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, apiKey string, logger *zap.Logger) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	if apiKey != "" {
		c.SetHeader("X-Api-Key", apiKey)
	}

	return &Client{http: c, logger: logger}
}

func (c *Client) Close() error {
	return c.http.Close()
}

// RunGCode runs script and returns once Klipper has accepted every line.
func (c *Client) RunGCode(ctx context.Context, script string) error {
	c.logger.Debug("Sending gcode", zap.String("script", script))

	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"script": script})
	_, err := c.do(req, "POST", "/printer/gcode/script")
	return err
}

// ToolheadPosition returns toolhead.position, one value per kinematic axis.
func (c *Client) ToolheadPosition(ctx context.Context) ([]float64, error) {
	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"objects": map[string]any{
				"toolhead": []string{"position", "status"},
			},
		})

	raw, err := c.do(req, "POST", "/printer/objects/query")
	if err != nil {
		return nil, err
	}

	var result struct {
		Status struct {
			Toolhead struct {
				Position []float64 `json:"position"`
			} `json:"toolhead"`
		} `json:"status"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode toolhead status: %w", err)
	}
	return result.Status.Toolhead.Position, nil
}

func (c *Client) PrinterInfo(ctx context.Context) (*PrinterInfo, error) {
	raw, err := c.do(c.http.R().SetContext(ctx), "GET", "/printer/info")
	if err != nil {
		return nil, err
	}

	var info PrinterInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode printer info: %w", err)
	}
	return &info, nil
}

func (c *Client) do(req *resty.Request, method, path string) (json.RawMessage, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("moonraker %s %s: %w", method, path, err)
	}

	var env envelope
	body := resp.String()
	if body != "" {
		if err := json.Unmarshal([]byte(body), &env); err != nil && !resp.IsError() {
			return nil, fmt.Errorf("moonraker %s %s: invalid reply: %w", method, path, err)
		}
	}

	if resp.IsError() || env.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}

	return env.Result, nil
}

// roundSteps converts a reported coordinate to whole steps.
func roundSteps(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid coordinate %v", v)
	}
	return int(math.Round(v)), nil
}
