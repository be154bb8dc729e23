package gateway

import (
	"encoding/json"

	"github.com/psds-microservice/support-service/internal/model"
)

// Типы фреймов realtime-канала.
const (
	FrameMessage         = "message"
	FrameTyping          = "typing"
	FrameSupporterJoined = "supporter_joined"
	FrameSystem          = "system"
	FrameError           = "error"
	FrameEndSession      = "end_session"
)

// Inbound is a frame sent by a client.
type Inbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Outbound is a frame sent by the server.
type Outbound struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message,omitempty"`
	Role    model.Role     `json:"role,omitempty"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// messageFrame: системные записи журнала уходят как "system", остальные как "message".
func messageFrame(m *model.Message) Outbound {
	if m.SenderType == model.SenderSystem {
		return Outbound{Type: FrameSystem, Message: m}
	}
	return Outbound{Type: FrameMessage, Message: m}
}

func errorFrame(code, text string) Outbound {
	return Outbound{Type: FrameError, Code: code, Error: text}
}

func encode(f Outbound) ([]byte, error) {
	return json.Marshal(f)
}
