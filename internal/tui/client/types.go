package client

import (
	"encoding/json"

	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/presence"
	"github.com/kiosk-presence/kiosk/internal/stage"
	"github.com/kiosk-presence/kiosk/internal/ws"
)

// Wire types shared with the daemon.
type (
	State           = presence.State
	Element         = stage.Element
	PageMessage     = stage.Message
	Command         = stage.Command
	PlayerEvent     = delivery.Event
	UIEvent         = delivery.UIEvent
	SnapshotPayload = ws.SnapshotPayload
	StagePayload    = ws.StagePayload
	HealthPayload   = ws.HealthPayload
)

// WSMessage is an inbound renderer frame with its payload left raw.
type WSMessage struct {
	Type    ws.MessageType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
