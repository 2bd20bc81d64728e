package models

import (
	"time"
)

// Repeat rappresenta la politica di ricorrenza di una programmazione
type Repeat string

const (
	RepeatOnce  Repeat = "once"  // Invio singolo
	RepeatDaily Repeat = "daily" // Invio ogni giorno alla stessa ora locale
)

// IsValid verifica che il valore di ricorrenza sia supportato
func (r Repeat) IsValid() bool {
	return r == RepeatOnce || r == RepeatDaily
}

// ScheduleRecord represents one scheduled message delivery
type ScheduleRecord struct {
	AccountID string    `json:"accountId"` // Numero di destinazione normalizzato (solo cifre), chiave naturale
	Message   string    `json:"message"`
	FireAt    time.Time `json:"fireAt"`   // Istante assoluto; per repeat=daily conta solo l'ora locale
	Timezone  string    `json:"timezone"` // Zona IANA usata per interpretare l'ora di fireAt
	Repeat    Repeat    `json:"repeat"`
	CreatedAt time.Time `json:"createdAt"`
}
