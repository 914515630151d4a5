package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/stage-profile-v1.json
var stageProfileSchemaJSON string

const stageProfileSchemaURL = "stage-profile-v1.json"

// Validator checks stage profiles in two passes: the embedded JSON schema
// for shape, then the axis rules the schema cannot express.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(stageProfileSchemaURL, strings.NewReader(stageProfileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(stageProfileSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidateProfile validates a JSON profile document and decodes it.
func (v *Validator) ValidateProfile(data []byte) (*types.StageProfileDefinition, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var profile types.StageProfileDefinition
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if _, err := ProfileAxes(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ProfileAxes returns the axis set of a profile and checks that its default
// inversion only names those axes. Profiles without an axes list get x, y, z.
func ProfileAxes(profile *types.StageProfileDefinition) (stage.AxisSet, error) {
	axes := stage.DefaultAxes()
	if len(profile.Axes) > 0 {
		var err error
		if axes, err = stage.NewAxisSet(profile.Axes...); err != nil {
			return stage.AxisSet{}, fmt.Errorf("profile %s: %w", profile.StageProfile.ID, err)
		}
	}
	if _, err := stage.NewInversion(axes, profile.AxisInverted); err != nil {
		return stage.AxisSet{}, fmt.Errorf("profile %s: axis_inverted: %w", profile.StageProfile.ID, err)
	}
	return axes, nil
}
