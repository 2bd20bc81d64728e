package models

// SessionState rappresenta lo stato del ciclo di vita della sessione WhatsApp
type SessionState string

const (
	SessionUninitialized SessionState = "UNINITIALIZED" // Nessun client attivo
	SessionQRPending     SessionState = "QR_PENDING"    // QR emesso, in attesa di scansione
	SessionAuthenticated SessionState = "AUTHENTICATED" // Credenziali accettate
	SessionReady         SessionState = "READY"         // Sessione utilizzabile per l'invio
	SessionAuthFailed    SessionState = "AUTH_FAILED"   // Credenziali rifiutate
	SessionDisconnected  SessionState = "DISCONNECTED"  // Connessione persa o logout
)

// AccountInfo represents the linked WhatsApp account, available once READY
type AccountInfo struct {
	Name     string `json:"name"`   // Push name dell'account
	Number   string `json:"number"` // Numero in formato internazionale, solo cifre
	Platform string `json:"platform,omitempty"`
}

// SessionStatus è il payload restituito da GET /status
type SessionStatus struct {
	State       SessionState `json:"state"`
	AccountInfo *AccountInfo `json:"accountInfo,omitempty"`
}
