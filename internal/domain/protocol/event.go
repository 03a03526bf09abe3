package protocol

import "encoding/json"

// EventType 是本系統推送給下游瀏覽器的事件種類 (非上游協定)。
type EventType string

const (
	EventBridgeStatus     EventType = "bridge_status"
	EventBridgeError      EventType = "bridge_error"
	EventHeartbeatTimeout EventType = "heartbeat_timeout"
	EventRoundState       EventType = "round_state"
	EventCardAdded        EventType = "card_added"
	EventRoundFinishing   EventType = "round_finishing"
	EventRoundResult      EventType = "round_result"
	EventPersistenceError EventType = "persistence_error"
	EventScanRejected     EventType = "scan_rejected"
)

const (
	BridgeConnected    = "connected"
	BridgeDisconnected = "disconnected"
)

// Event 是下游事件的外層結構。
type Event struct {
	Type    EventType `json:"type"`
	Table   int       `json:"table,omitempty"`
	Status  string    `json:"status,omitempty"`
	Error   string    `json:"error,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// Encode 序列化事件；Event 的欄位都可序列化，失敗時回傳空物件。
func (e Event) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte("{}")
	}
	return data
}
