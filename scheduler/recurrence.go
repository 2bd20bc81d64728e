package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

// FiringPlan è il piano di invio concreto derivato da una programmazione:
// un istante assoluto per repeat=once, una regola giornaliera ad ora
// locale (nella zona del record) per repeat=daily. Il piano calcola solo
// QUANDO inviare; i timer veri e propri sono dello Scheduler.
type FiringPlan struct {
	Repeat models.Repeat
	At     time.Time // Solo per once

	// Solo per daily
	CronSpec string // "CRON_TZ=<zona> <min> <ora> * * *"
	schedule cron.Schedule
}

// ResolvePlan calcola il piano di invio di una programmazione.
// La zona del record è autorevole sia per le programmazioni nuove che per
// quelle ripristinate all'avvio.
func ResolvePlan(record *models.ScheduleRecord) (*FiringPlan, error) {
	if !record.Repeat.IsValid() {
		return nil, &ValidationError{Field: "repeat", Reason: fmt.Sprintf("valore non supportato: %q", record.Repeat)}
	}

	loc, err := time.LoadLocation(record.Timezone)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Reason: fmt.Sprintf("zona sconosciuta %q", record.Timezone)}
	}

	if record.Repeat == models.RepeatOnce {
		return &FiringPlan{Repeat: models.RepeatOnce, At: record.FireAt}, nil
	}

	// Per daily conta solo l'ora locale di fireAt nella zona del record
	local := record.FireAt.In(loc)
	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", record.Timezone, local.Minute(), local.Hour())

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Reason: fmt.Sprintf("piano giornaliero non calcolabile: %v", err)}
	}

	return &FiringPlan{Repeat: models.RepeatDaily, CronSpec: spec, schedule: schedule}, nil
}

// Elapsed indica se un piano once è già trascorso rispetto a now
func (p *FiringPlan) Elapsed(now time.Time) bool {
	return p.Repeat == models.RepeatOnce && !p.At.After(now)
}

// Next restituisce la prossima occorrenza del piano dopo l'istante dato.
// Per un piano once già trascorso restituisce lo zero time.
func (p *FiringPlan) Next(after time.Time) time.Time {
	if p.Repeat == models.RepeatOnce {
		if p.At.After(after) {
			return p.At
		}
		return time.Time{}
	}
	return p.schedule.Next(after)
}
