package router

import (
	"encoding/json"
	"strings"

	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/models"
	"igcrawler/pkg/scheduler"
)

// Message sources
const (
	SourcePopup         = "popup"
	SourceContentScript = "contentScript"
	SourceWorker        = "worker"
)

// Message signals
const (
	SignalStart          = "start"
	SignalStop           = "stop"
	SignalRestart        = "restart"
	SignalUpdateSettings = "update_settings"
	SignalComplete       = "complete"
	SignalRefresh        = "refresh"
	SignalDrained        = "drained"
)

// Envelope is the wire form of every message: a source and signal pair
// naming the variant plus its payload
type Envelope struct {
	Source  string          `json:"source"`
	Signal  string          `json:"signal"`
	Tab     string          `json:"tab,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is one of the closed set of commands the router accepts:
// StartMessage, StopMessage, RestartMessage, UpdateSettingsMessage and
// CompleteMessage
type Message interface {
	signal() string
}

// StartMessage asks the scheduler to start crawling from the active tab
type StartMessage struct{}

// StopMessage disables dispatch
type StopMessage struct{}

// RestartMessage discards the queued frontier
type RestartMessage struct{}

// UpdateSettingsMessage changes the operator settings. Nil fields are left
// as they are.
type UpdateSettingsMessage struct {
	MaxTabs *int  `json:"maxTabs,omitempty"`
	DevMode *bool `json:"devMode,omitempty"`
}

// CompleteMessage carries an extraction task's result for the task in Tab
type CompleteMessage struct {
	Tab    scheduler.TabHandle
	Result models.TaskResult
}

func (StartMessage) signal() string          { return SignalStart }
func (StopMessage) signal() string           { return SignalStop }
func (RestartMessage) signal() string        { return SignalRestart }
func (UpdateSettingsMessage) signal() string { return SignalUpdateSettings }
func (CompleteMessage) signal() string       { return SignalComplete }

// Decode parses a JSON envelope into its message variant
func Decode(data []byte) (Message, error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(env)
}

func parseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errs.Wrap(errs.ErrorTypeUnrecognizedMessage, "malformed message", err)
	}
	return env, nil
}

// DecodeEnvelope maps an envelope to its message variant. Unknown source
// and signal pairs are rejected with an unrecognized message error.
func DecodeEnvelope(env Envelope) (Message, error) {
	switch {
	case strings.EqualFold(env.Source, SourcePopup):
		switch env.Signal {
		case SignalStart:
			return StartMessage{}, nil
		case SignalStop:
			return StopMessage{}, nil
		case SignalRestart:
			return RestartMessage{}, nil
		case SignalUpdateSettings:
			var msg UpdateSettingsMessage
			if err := decodePayload(env, &msg); err != nil {
				return nil, err
			}
			return msg, nil
		}

	case strings.EqualFold(env.Source, SourceContentScript):
		if env.Signal == SignalComplete {
			if env.Tab == "" {
				return nil, errs.Wrap(errs.ErrorTypeUnrecognizedMessage, "complete message without a tab", nil)
			}
			var result models.TaskResult
			if err := decodePayload(env, &result); err != nil {
				return nil, err
			}
			return CompleteMessage{Tab: scheduler.TabHandle(env.Tab), Result: result}, nil
		}

	case env.Source == "":
		return nil, errs.NewUnrecognizedMessage("", env.Signal)
	}
	return nil, errs.NewUnrecognizedMessage(env.Source, env.Signal)
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return errs.Wrap(errs.ErrorTypeUnrecognizedMessage, "malformed "+env.Signal+" payload", err)
	}
	return nil
}

// Response is sent back for every message
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Event is a worker notification relayed to UI subscribers
type Event struct {
	Source string                `json:"source"`
	Signal string                `json:"signal"`
	Record *models.ProfileRecord `json:"record,omitempty"`
}
