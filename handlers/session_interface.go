package handlers

import (
	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

// Session è l'interfaccia che definisce le capability della sessione
// WhatsApp necessarie al layer API
type Session interface {
	Reinitialize() error
	Logout() error
	Status() models.SessionStatus
}
