package scheduler

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
	"github.com/SudoRV/WhatsApp-Scheduler/persistence"
)

// Sender è la capability di invio esposta dalla sessione WhatsApp
type Sender interface {
	Send(destinationID, message string) error
	State() models.SessionState
}

// Notifier pubblica gli esiti delle programmazioni agli osservatori (best effort)
type Notifier interface {
	BroadcastSchedule(event models.ScheduleEvent)
}

// jobHandle è la risorsa timer/trigger di una programmazione attiva.
// Vive solo in memoria, mai persistito.
type jobHandle struct {
	accountID string
	repeat    models.Repeat
	timer     *time.Timer  // once
	entry     cron.EntryID // daily
}

// Scheduler possiede i timer vivi: esattamente un jobHandle per numero.
// Le operazioni sullo stesso numero sono serializzate da un mutex per
// account; numeri diversi procedono in parallelo.
type Scheduler struct {
	store    *persistence.ScheduleStore
	sender   Sender
	notifier Notifier

	// Politica per le once fallite: se true il record resta nello store
	// (così una disconnessione transitoria non lo perde in silenzio)
	keepFailedOnce bool

	cron *cron.Cron
	now  func() time.Time

	mu       sync.Mutex
	jobs     map[string]*jobHandle
	accounts map[string]*sync.Mutex
}

// NewScheduler crea lo scheduler e avvia il motore delle ricorrenze
func NewScheduler(store *persistence.ScheduleStore, sender Sender, notifier Notifier, keepFailedOnce bool) *Scheduler {
	s := &Scheduler{
		store:          store,
		sender:         sender,
		notifier:       notifier,
		keepFailedOnce: keepFailedOnce,
		cron:           cron.New(),
		now:            time.Now,
		jobs:           make(map[string]*jobHandle),
		accounts:       make(map[string]*sync.Mutex),
	}
	s.cron.Start()
	return s
}

// lockFor restituisce il mutex dell'account, creandolo al primo uso.
// La mappa cresce con i numeri distinti mai programmati e non viene mai
// potata: rimuovere un mutex su cui un'altra goroutine è in attesa
// aprirebbe due sezioni critiche parallele sullo stesso numero.
func (s *Scheduler) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.accounts[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.accounts[accountID] = lock
	}
	return lock
}

// Schedule registra (o sostituisce) la programmazione di un numero:
// cancella l'eventuale handle precedente, persiste il record e arma il
// nuovo trigger. L'ultimo che scrive vince, mai invii duplicati.
func (s *Scheduler) Schedule(record *models.ScheduleRecord) error {
	plan, err := ResolvePlan(record)
	if err != nil {
		return err
	}
	if plan.Elapsed(s.now()) {
		return ErrElapsed
	}

	lock := s.lockFor(record.AccountID)
	lock.Lock()
	defer lock.Unlock()

	// Persisti prima di toccare i trigger: se il flush fallisce
	// l'operazione non è committata e l'eventuale handle precedente
	// resta armato com'era
	if err := s.store.Upsert(record); err != nil {
		return err
	}

	// Prima di installare il nuovo trigger, l'handle precedente deve
	// essere cancellato, altrimenti si rischiano invii duplicati
	s.discard(record.AccountID)
	return s.arm(record.AccountID, plan)
}

// Cancel cancella programmazione e trigger di un numero.
// ErrNotFound (da persistence) se il numero non ha nulla di attivo.
func (s *Scheduler) Cancel(accountID string) error {
	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	err := s.store.Remove(accountID)
	if err != nil {
		return err
	}

	s.discard(accountID)
	return nil
}

// RestoreAll riarma le programmazioni persistite all'avvio del processo.
// Una once già scaduta viene rimossa dallo store senza inviare nulla: il
// recovery non deve produrre una raffica di messaggi arretrati.
func (s *Scheduler) RestoreAll(records []*models.ScheduleRecord) {
	for _, record := range records {
		plan, err := ResolvePlan(record)
		if err != nil {
			log.Printf("Programmazione per %s non ripristinabile, la rimuovo: %v", record.AccountID, err)
			s.store.Remove(record.AccountID)
			continue
		}

		if plan.Elapsed(s.now()) {
			log.Printf("Programmazione once per %s scaduta durante lo stop, la rimuovo senza inviare", record.AccountID)
			s.store.Remove(record.AccountID)
			s.notifier.BroadcastSchedule(models.ScheduleEvent{Action: "expired", AccountID: record.AccountID})
			continue
		}

		lock := s.lockFor(record.AccountID)
		lock.Lock()
		s.discard(record.AccountID)
		err = s.arm(record.AccountID, plan)
		lock.Unlock()
		if err != nil {
			log.Printf("Programmazione per %s non riarmabile: %v", record.AccountID, err)
			continue
		}

		log.Printf("Programmazione per %s ripristinata (%s, prossimo invio %s)",
			record.AccountID, record.Repeat, plan.Next(s.now()).Format(time.RFC3339))
		s.notifier.BroadcastSchedule(models.ScheduleEvent{Action: "restored", AccountID: record.AccountID})
	}
}

// arm installa il trigger per un piano e registra il jobHandle.
// Da chiamare con il lock dell'account tenuto.
func (s *Scheduler) arm(accountID string, plan *FiringPlan) error {
	handle := &jobHandle{accountID: accountID, repeat: plan.Repeat}

	if plan.Repeat == models.RepeatOnce {
		handle.timer = time.AfterFunc(plan.At.Sub(s.now()), func() {
			s.onFire(handle)
		})
	} else {
		// La stringa cron è già stata validata da ResolvePlan, ma senza
		// trigger installato la programmazione resterebbe muta: l'errore
		// risale al chiamante (il record persistito verrà riarmato al
		// prossimo avvio)
		entry, err := s.cron.AddFunc(plan.CronSpec, func() {
			s.onFire(handle)
		})
		if err != nil {
			return fmt.Errorf("trigger giornaliero per %s non installabile: %v", accountID, err)
		}
		handle.entry = entry
	}

	s.mu.Lock()
	s.jobs[accountID] = handle
	s.mu.Unlock()
	return nil
}

// discard ferma e dimentica l'handle corrente di un numero, se esiste.
// Da chiamare con il lock dell'account tenuto.
func (s *Scheduler) discard(accountID string) {
	s.mu.Lock()
	handle, ok := s.jobs[accountID]
	if ok {
		delete(s.jobs, accountID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if handle.timer != nil {
		handle.timer.Stop()
	}
	if handle.repeat == models.RepeatDaily {
		s.cron.Remove(handle.entry)
	}
}

// onFire è il callback dei trigger. Gira su una goroutine del timer/cron,
// in modo asincrono rispetto alle chiamate API.
func (s *Scheduler) onFire(handle *jobHandle) {
	accountID := handle.accountID

	lock := s.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	// Un timer può scattare mentre la sua programmazione viene sostituita
	// o cancellata: se questo handle non è più quello registrato, lo
	// scatto è obsoleto e non deve inviare nulla
	s.mu.Lock()
	current := s.jobs[accountID]
	s.mu.Unlock()
	if current != handle {
		return
	}

	// Rileggi il record: è la copia nello store a fare fede
	record, err := s.store.Get(accountID)
	if err != nil {
		return
	}

	// L'invio può bloccare, ma solo le operazioni future di QUESTO numero
	// restano in attesa: numeri diversi hanno lock indipendenti
	if err := s.sender.Send(record.AccountID, record.Message); err != nil {
		log.Printf("Invio programmato a %s fallito (stato sessione %s): %v", accountID, s.sender.State(), err)
		s.notifier.BroadcastSchedule(models.ScheduleEvent{
			Action:    "delivery_failed",
			AccountID: accountID,
			Detail:    err.Error(),
		})

		// Nessun retry automatico: per una daily il prossimo tentativo è
		// l'occorrenza di domani, per una once decide la politica (se il
		// record resta, è lì per la cancellazione manuale o per il
		// prossimo riavvio)
		if record.Repeat == models.RepeatOnce {
			if !s.keepFailedOnce {
				s.store.Remove(accountID)
			}
			s.dropHandle(accountID, handle)
		}
		return
	}

	log.Printf("Messaggio programmato inviato a %s", accountID)
	s.notifier.BroadcastSchedule(models.ScheduleEvent{Action: "fired", AccountID: accountID})

	if record.Repeat == models.RepeatOnce {
		if err := s.store.Remove(accountID); err != nil {
			log.Printf("Errore nella rimozione della programmazione esaurita per %s: %v", accountID, err)
		}
		s.dropHandle(accountID, handle)
	}
}

// dropHandle dimentica l'handle se è ancora quello registrato
func (s *Scheduler) dropHandle(accountID string, handle *jobHandle) {
	s.mu.Lock()
	if s.jobs[accountID] == handle {
		delete(s.jobs, accountID)
	}
	s.mu.Unlock()
}

// Stop abbandona tutti i trigger vivi. Nessuna garanzia di invio in
// chiusura: i record restano nello store per il prossimo avvio.
func (s *Scheduler) Stop() {
	s.cron.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for accountID, handle := range s.jobs {
		if handle.timer != nil {
			handle.timer.Stop()
		}
		delete(s.jobs, accountID)
	}
}
