package dto

// Event is the envelope every published message travels in.
type Event struct {
	ID        string      `json:"id"`
	EntityID  string      `json:"entityId"`
	EventType string      `json:"eventType"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}
