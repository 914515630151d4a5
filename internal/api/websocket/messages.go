package websocket

import (
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeStageMoving    MessageType = "stage_moving"
	MessageTypeStagePosition  MessageType = "stage_position"
	MessageTypeStageInversion MessageType = "stage_inversion"
	MessageTypeStageError     MessageType = "stage_error"

	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Stage     string      `json:"stage,omitempty"`
	Data      interface{} `json:"data"`
}

type StageMovingData struct {
	Moving bool `json:"moving"`
}

// StagePositionData carries a program-frame position
type StagePositionData struct {
	Position stage.Position `json:"position"`
}

type StageInversionData struct {
	AxisInverted map[string]bool `json:"axis_inverted"`
	Position     stage.Position  `json:"position"`
}

type StageErrorData struct {
	Error    string         `json:"error"`
	Position stage.Position `json:"position,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewStageMessage converts a stage event into a message
func NewStageMessage(e stage.Event) (Message, bool) {
	var msg Message
	switch e.Type {
	case stage.EventMoving:
		msg = NewMessage(MessageTypeStageMoving, StageMovingData{Moving: e.Moving})
	case stage.EventPosition:
		msg = NewMessage(MessageTypeStagePosition, StagePositionData{Position: e.Position})
	case stage.EventInversion:
		msg = NewMessage(MessageTypeStageInversion, StageInversionData{AxisInverted: e.Inversion, Position: e.Position})
	case stage.EventError:
		data := StageErrorData{Position: e.Position}
		if e.Err != nil {
			data.Error = e.Err.Error()
		}
		msg = NewMessage(MessageTypeStageError, data)
	default:
		return Message{}, false
	}
	msg.Stage = e.Stage
	return msg, true
}
