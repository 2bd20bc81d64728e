package scheduler

import (
	"errors"
	"fmt"
)

// ErrElapsed indica una programmazione once il cui istante è già passato
var ErrElapsed = errors.New("l'istante di invio è già trascorso")

// ValidationError represents a rejected schedule request
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("campo %s non valido: %s", e.Field, e.Reason)
}
