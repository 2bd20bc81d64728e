package models

// Tipi di evento pubblicati sul WebSocket
const (
	WSTypeStatus   = "status"   // Transizione di stato della sessione
	WSTypeQR       = "qr"       // Nuovo QR code (data URL PNG)
	WSTypeUserInfo = "userInfo" // Account collegato, emesso su READY
	WSTypeSchedule = "schedule" // Mutazione o esito di una programmazione
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ScheduleEvent è il payload degli eventi di tipo "schedule"
type ScheduleEvent struct {
	Action    string `json:"action"` // created | replaced | deleted | fired | delivery_failed | restored | expired
	AccountID string `json:"accountId"`
	Detail    string `json:"detail,omitempty"`
}
