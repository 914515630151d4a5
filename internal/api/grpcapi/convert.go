package grpcapi

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"google.golang.org/protobuf/types/known/structpb"
)

func positionMap(p stage.Position) map[string]any {
	out := make(map[string]any, len(p))
	for axis, v := range p {
		out[axis] = v
	}
	return out
}

func boolMap(m map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func propertiesStruct(p stage.Properties) (*structpb.Struct, error) {
	names := make([]any, len(p.AxisNames))
	for i, n := range p.AxisNames {
		names[i] = n
	}
	return structpb.NewStruct(map[string]any{
		"name":          p.Name,
		"axis_names":    names,
		"position":      positionMap(p.Position),
		"moving":        p.Moving,
		"axis_inverted": boolMap(p.AxisInverted),
	})
}

func eventStruct(e stage.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"type":      string(e.Type),
		"stage":     e.Stage,
		"timestamp": time.Now().UnixMilli(),
	}
	switch e.Type {
	case stage.EventMoving:
		fields["moving"] = e.Moving
	case stage.EventPosition:
		fields["position"] = positionMap(e.Position)
	case stage.EventInversion:
		fields["axis_inverted"] = boolMap(e.Inversion)
		fields["position"] = positionMap(e.Position)
	case stage.EventError:
		if e.Err != nil {
			fields["error"] = e.Err.Error()
		}
	}
	return structpb.NewStruct(fields)
}

// moveRequest is the decoded form of a move request struct:
//
//	{"stage": "main", "position": {"x": 10}, "block_cancellation": false}
//	{"stage": "main", "sequence": [10, 0, 0]}
type moveRequest struct {
	stage             string
	position          stage.Position
	sequence          []int
	blockCancellation bool
}

func parseMoveRequest(req *structpb.Struct) (moveRequest, error) {
	var out moveRequest
	fields := req.GetFields()

	out.stage = fields["stage"].GetStringValue()
	if out.stage == "" {
		return out, fmt.Errorf("stage is required")
	}
	out.blockCancellation = fields["block_cancellation"].GetBoolValue()

	pos, hasPos := fields["position"]
	seq, hasSeq := fields["sequence"]
	if hasPos == hasSeq {
		return out, fmt.Errorf("exactly one of position or sequence is required")
	}

	if hasPos {
		sv := pos.GetStructValue()
		if sv == nil {
			return out, fmt.Errorf("position must be an object")
		}
		floats := make(map[string]float64, len(sv.GetFields()))
		for axis, v := range sv.GetFields() {
			if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
				return out, fmt.Errorf("position %s must be a number", axis)
			}
			floats[axis] = v.GetNumberValue()
		}
		p, err := stage.PositionFromFloats(floats)
		if err != nil {
			return out, err
		}
		out.position = p
		return out, nil
	}

	lv := seq.GetListValue()
	if lv == nil {
		return out, fmt.Errorf("sequence must be a list")
	}
	out.sequence = make([]int, len(lv.GetValues()))
	for i, v := range lv.GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return out, fmt.Errorf("sequence[%d] must be a number", i)
		}
		n, err := stage.Steps(v.GetNumberValue())
		if err != nil {
			return out, err
		}
		out.sequence[i] = n
	}
	return out, nil
}
