package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.etcd.io/bbolt"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

var schedulesBucket = []byte("schedules")

// ErrNotFound indica che nessuna programmazione esiste per il numero richiesto
var ErrNotFound = errors.New("programmazione non trovata")

// ScheduleStore è la mappa durevole accountId -> ScheduleRecord.
// bbolt serializza le transazioni di scrittura e flusha su disco prima che
// Update ritorni: un successo restituito al chiamante sopravvive a un
// crash immediatamente successivo.
type ScheduleStore struct {
	db *bbolt.DB
}

// NewScheduleStore apre (o crea) il file delle programmazioni
func NewScheduleStore(path string) (*ScheduleStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("errore nell'apertura dello store delle programmazioni: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(schedulesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ScheduleStore{db: db}, nil
}

// Upsert inserisce o sostituisce la programmazione per record.AccountID.
// Se ritorna errore la mutazione NON è stata committata.
func (s *ScheduleStore) Upsert(record *models.ScheduleRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("errore nella codifica della programmazione: %v", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(schedulesBucket).Put([]byte(record.AccountID), data)
	})
	if err != nil {
		return fmt.Errorf("errore nel salvataggio della programmazione per %s: %v", record.AccountID, err)
	}
	return nil
}

// Remove cancella la programmazione se presente; ErrNotFound se assente
func (s *ScheduleStore) Remove(accountID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(schedulesBucket)
		if bucket.Get([]byte(accountID)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(accountID))
	})
}

// Get carica la programmazione per un numero; ErrNotFound se assente
func (s *ScheduleStore) Get(accountID string) (*models.ScheduleRecord, error) {
	var record models.ScheduleRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(schedulesBucket).Get([]byte(accountID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List restituisce tutte le programmazioni attive, in ordine qualsiasi
func (s *ScheduleStore) List() ([]*models.ScheduleRecord, error) {
	var records []*models.ScheduleRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(schedulesBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record models.ScheduleRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, &record)
		}
		return nil
	})

	return records, err
}

// LoadOnStartup deserializza l'insieme persistito all'avvio del processo.
// Le voci illeggibili vengono scartate (e rimosse) invece di bloccare
// l'avvio: uno stato corrotto degrada a insieme parziale, mai a crash.
func (s *ScheduleStore) LoadOnStartup() []*models.ScheduleRecord {
	var records []*models.ScheduleRecord
	var corrupt [][]byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(schedulesBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record models.ScheduleRecord
			if err := json.Unmarshal(v, &record); err != nil {
				log.Printf("Voce corrotta nello store per la chiave %s, la scarto: %v", string(k), err)
				corrupt = append(corrupt, append([]byte(nil), k...))
				continue
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		log.Printf("Errore nella lettura dello store all'avvio: %v", err)
		return nil
	}

	// Ripulisci le voci illeggibili così non vengono rilette al prossimo avvio
	if len(corrupt) > 0 {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(schedulesBucket)
			for _, k := range corrupt {
				if err := bucket.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Printf("Errore nella rimozione delle voci corrotte: %v", err)
		}
	}

	return records
}

func (s *ScheduleStore) Close() error {
	return s.db.Close()
}
