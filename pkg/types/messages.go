package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message type tags (client -> hub).
const (
	MsgRegister           = "register"
	MsgSubscribeProcedure = "subscribe_procedure"
	MsgVoiceTranscription = "voice_transcription"
	MsgVoiceCommand       = "voice_command"
	MsgFieldUpdate        = "field_update"
	MsgProcedureUpdate    = "procedure_update"
)

// Outbound message type tags (hub -> client).
const (
	MsgConnection       = "connection"
	MsgRegistered       = "registered"
	MsgSubscribed       = "subscribed"
	MsgTranscription    = "transcription"
	MsgCommand          = "command"
	MsgFieldUpdated     = "field_updated"
	MsgProcedureSaved   = "procedure_saved"
	MsgProcedureUpdated = "procedure_updated"
	MsgError            = "error"
)

// Inbound is the tagged union of every message a client may send. Exactly
// one payload pointer is non-nil after a successful parse; the hub switches
// exhaustively on Type.
type Inbound struct {
	Type          string
	Register      *RegisterMsg
	Subscribe     *SubscribeMsg
	Transcription *TranscriptionMsg
	Command       *CommandMsg
	FieldUpdate   *FieldUpdateMsg
	Update        *ProcedureUpdateMsg
}

type RegisterMsg struct {
	ClientType string `json:"clientType"`
}

type SubscribeMsg struct {
	ProcedureID string `json:"procedureId"`
}

type TranscriptionMsg struct {
	Text string `json:"text"`
}

type CommandMsg struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params"`
}

type FieldUpdateMsg struct {
	ProcedureID string      `json:"procedureId"`
	Field       string      `json:"field"`
	Value       interface{} `json:"value"`
}

type ProcedureUpdateMsg struct {
	ProcedureID string                 `json:"procedureId"`
	Updates     map[string]interface{} `json:"updates"`
}

// ErrUnknownMessageType wraps the offending tag so callers can log it.
type ErrUnknownMessageType struct {
	Tag string
}

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Tag)
}

// ParseInbound decodes a raw client frame into an Inbound variant. The raw
// payload is decoded twice: once for the tag, once for the typed body.
func ParseInbound(raw []byte) (*Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	in := &Inbound{Type: head.Type}
	var err error
	switch head.Type {
	case MsgRegister:
		in.Register = &RegisterMsg{}
		err = json.Unmarshal(raw, in.Register)
	case MsgSubscribeProcedure:
		in.Subscribe = &SubscribeMsg{}
		err = json.Unmarshal(raw, in.Subscribe)
	case MsgVoiceTranscription:
		in.Transcription = &TranscriptionMsg{}
		err = json.Unmarshal(raw, in.Transcription)
	case MsgVoiceCommand:
		in.Command = &CommandMsg{}
		err = json.Unmarshal(raw, in.Command)
	case MsgFieldUpdate:
		in.FieldUpdate = &FieldUpdateMsg{}
		err = json.Unmarshal(raw, in.FieldUpdate)
	case MsgProcedureUpdate:
		in.Update = &ProcedureUpdateMsg{}
		err = json.Unmarshal(raw, in.Update)
	default:
		return nil, &ErrUnknownMessageType{Tag: head.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s message: %w", head.Type, err)
	}
	return in, nil
}

// Outbound envelopes. Immutable once constructed; a single envelope value is
// shared across every recipient of a broadcast.

type ConnectionAck struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	ClientID string `json:"clientId"`
}

type RegisteredAck struct {
	Type       string `json:"type"`
	ClientID   string `json:"clientId"`
	ClientType string `json:"clientType"`
}

type SubscribedAck struct {
	Type        string `json:"type"`
	ProcedureID string `json:"procedureId"`
}

type TranscriptionEvent struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type CommandEvent struct {
	Type      string                 `json:"type"`
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params"`
	Timestamp time.Time              `json:"timestamp"`
}

type FieldUpdatedEvent struct {
	Type        string      `json:"type"`
	Field       string      `json:"field"`
	Value       interface{} `json:"value"`
	ProcedureID string      `json:"procedureId"`
	Source      string      `json:"source,omitempty"`
}

type ProcedureSavedEvent struct {
	Type        string `json:"type"`
	ProcedureID string `json:"procedureId"`
	Message     string `json:"message"`
}

type ProcedureUpdatedEvent struct {
	Type        string                 `json:"type"`
	ProcedureID string                 `json:"procedureId"`
	Updates     map[string]interface{} `json:"updates"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
