package types

type StageProfileDefinition struct {
	StageProfile   StageProfileInfo `json:"stage_profile" yaml:"stage_profile"`
	Driver         DriverConfig     `json:"driver" yaml:"driver"`
	Axes           []string         `json:"axes,omitempty" yaml:"axes,omitempty"`
	AxisInverted   map[string]bool  `json:"axis_inverted,omitempty" yaml:"axis_inverted,omitempty"`
	PollIntervalMs int              `json:"poll_interval_ms,omitempty" yaml:"poll_interval_ms,omitempty"`
}

type StageProfileInfo struct {
	ID          string `json:"id" yaml:"id"`
	Vendor      string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Model       string `json:"model,omitempty" yaml:"model,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type DriverType string

const (
	DriverMoonraker   DriverType = "moonraker"
	DriverSerialGCode DriverType = "serial_gcode"
	DriverSimulated   DriverType = "simulated"
)

// DriverConfig holds the connection settings of every driver type. Zero
// values fall back to the service defaults.
type DriverConfig struct {
	Type DriverType `json:"type" yaml:"type"`

	// moonraker
	BaseURL       string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Port          int    `json:"port,omitempty" yaml:"port,omitempty"`
	Acceleration  int    `json:"acceleration,omitempty" yaml:"acceleration,omitempty"`
	APIKeyEnv     string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	ZeroOnConnect bool   `json:"zero_on_connect,omitempty" yaml:"zero_on_connect,omitempty"`

	// moonraker and serial_gcode
	Speed     int `json:"speed,omitempty" yaml:"speed,omitempty"`
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// serial_gcode
	Device string `json:"device,omitempty" yaml:"device,omitempty"`
	Baud   int    `json:"baud,omitempty" yaml:"baud,omitempty"`

	// simulated
	StepTimeMs int `json:"step_time_ms,omitempty" yaml:"step_time_ms,omitempty"`
	StepLoss   int `json:"step_loss,omitempty" yaml:"step_loss,omitempty"`
}

// ProfileSummary is a profile as listed by the API.
type ProfileSummary struct {
	ID          string     `json:"id"`
	Vendor      string     `json:"vendor,omitempty"`
	Model       string     `json:"model,omitempty"`
	Description string     `json:"description,omitempty"`
	DriverType  DriverType `json:"driver_type"`
	Axes        []string   `json:"axes"`
	Path        string     `json:"path"`
}
