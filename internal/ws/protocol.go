package ws

import (
	"github.com/kiosk-presence/kiosk/internal/presence"
	"github.com/kiosk-presence/kiosk/internal/stage"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgState    MessageType = "state"
	MsgStage    MessageType = "stage"
	MsgCommand  MessageType = "command"
	MsgEvent    MessageType = "player_event"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	State        presence.State  `json:"state"`
	Elements     []stage.Element `json:"elements"`
	IdleVideoURL string          `json:"idleVideoUrl,omitempty"`
}

type StagePayload struct {
	Elements []stage.Element `json:"elements"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ActivityRequest is the optional body of POST /api/activity.
type ActivityRequest struct {
	Signal string `json:"signal"`
}

// HealthPayload is the body of GET /api/health.
type HealthPayload struct {
	Mode      presence.Mode `json:"mode"`
	Uptime    string        `json:"uptime"`
	Renderers int           `json:"renderers"`
	RSSBytes  uint64        `json:"rssBytes,omitempty"`
	Threads   int32         `json:"threads,omitempty"`
}
