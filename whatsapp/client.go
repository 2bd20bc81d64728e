package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	"rsc.io/qr"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

var (
	// ErrNotInitialized indica un'operazione richiesta senza client attivo
	ErrNotInitialized = errors.New("client WhatsApp non inizializzato")
	// ErrSessionNotReady indica un invio tentato fuori dallo stato READY
	ErrSessionNotReady = errors.New("sessione WhatsApp non pronta per l'invio")
)

// Notifier riceve gli eventi del ciclo di vita della sessione (best effort)
type Notifier interface {
	BroadcastStatus(state models.SessionState)
	BroadcastQR(dataURL string)
	BroadcastUserInfo(info models.AccountInfo)
}

// Manager è lo slot stabile che contiene il client whatsmeow corrente.
// I dipendenti (scheduler, API) tengono un riferimento al Manager, mai al
// client: Reinitialize può così sostituire l'handle in modo trasparente.
// Lo stato della sessione non viene mai persistito: a ogni avvio si
// riparte da UNINITIALIZED.
type Manager struct {
	container *sqlstore.Container
	waLogger  waLog.Logger
	notifier  Notifier

	mu         sync.RWMutex
	client     *whatsmeow.Client
	generation string // uuid dell'handle corrente: gli eventi di handle vecchi vengono scartati
	state      models.SessionState
	account    *models.AccountInfo
	lastQR     string // ultimo QR emesso (data URL), per il replay ai nuovi osservatori
}

// NewManager apre il device store di whatsmeow e prepara lo slot
func NewManager(dsn string, notifier Notifier) (*Manager, error) {
	logger := waLog.Stdout("Client", "INFO", true)

	container, err := sqlstore.New("sqlite3", dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("errore durante la creazione del database delle sessioni: %v", err)
	}

	return &Manager{
		container: container,
		waLogger:  logger,
		notifier:  notifier,
		state:     models.SessionUninitialized,
	}, nil
}

// Initialize crea un nuovo client e avvia la connessione. Se il device
// non è registrato apre il canale QR e pubblica i codici agli osservatori;
// altrimenti riusa le credenziali salvate.
func (m *Manager) Initialize() error {
	deviceStore, err := m.container.GetFirstDevice()
	if err != nil {
		return fmt.Errorf("errore durante l'ottenimento del dispositivo: %v", err)
	}

	client := whatsmeow.NewClient(deviceStore, m.waLogger)
	generation := uuid.NewString()

	m.mu.Lock()
	m.client = client
	m.generation = generation
	m.mu.Unlock()

	client.AddEventHandler(func(evt interface{}) {
		m.handleEvent(generation, evt)
	})

	if client.Store.ID == nil {
		// Nessun dispositivo registrato: serve la scansione del QR
		qrChan, err := client.GetQRChannel(context.Background())
		if err != nil {
			return fmt.Errorf("errore nell'ottenere il canale QR: %v", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("errore durante la connessione: %v", err)
		}
		go m.qrLoop(generation, qrChan)
	} else {
		log.Println("Già registrato con JID:", client.Store.ID)
		if err := client.Connect(); err != nil {
			return fmt.Errorf("errore durante la connessione: %v", err)
		}
	}

	return nil
}

// Reinitialize smonta l'handle corrente e ne crea uno nuovo (QR fresco).
// La generazione viene cambiata PRIMA del teardown: gli eventi residui del
// vecchio client non possono più toccare lo stato.
func (m *Manager) Reinitialize() error {
	m.mu.Lock()
	old := m.client
	m.client = nil
	m.generation = uuid.NewString()
	m.state = models.SessionUninitialized
	m.account = nil
	m.lastQR = ""
	m.notifier.BroadcastStatus(models.SessionUninitialized)
	m.mu.Unlock()

	if old != nil {
		old.RemoveEventHandlers()
		old.Disconnect()
	}

	log.Println("Reinizializzazione del client WhatsApp...")
	return m.Initialize()
}

// Logout invalida la credenziale corrente e porta la sessione a
// DISCONNECTED. Non è valido senza un client attivo.
func (m *Manager) Logout() error {
	m.mu.RLock()
	client := m.client
	generation := m.generation
	state := m.state
	m.mu.RUnlock()

	if client == nil || state == models.SessionUninitialized {
		return ErrNotInitialized
	}

	if err := client.Logout(); err != nil {
		return fmt.Errorf("errore durante il logout: %v", err)
	}

	log.Println("Logout dalla sessione WhatsApp effettuato")
	m.setState(generation, models.SessionDisconnected)
	return nil
}

// Send invia un messaggio di testo al numero indicato (solo cifre).
// È valido solo in READY: in ogni altro stato fallisce subito con
// ErrSessionNotReady, senza bloccare né accodare.
func (m *Manager) Send(destinationID, message string) error {
	m.mu.RLock()
	client := m.client
	state := m.state
	m.mu.RUnlock()

	if state != models.SessionReady || client == nil {
		return ErrSessionNotReady
	}

	jid := types.NewJID(destinationID, types.DefaultUserServer)
	msg := &waE2E.Message{
		Conversation: proto.String(message),
	}

	if _, err := client.SendMessage(context.Background(), jid, msg); err != nil {
		return fmt.Errorf("errore nell'invio del messaggio a %s: %v", destinationID, err)
	}
	return nil
}

// State restituisce lo stato corrente della sessione
func (m *Manager) State() models.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status restituisce stato e account collegato (se READY)
func (m *Manager) Status() models.SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.SessionStatus{State: m.state, AccountInfo: m.account}
}

// LastQR restituisce l'ultimo QR emesso, vuoto se non in attesa di scansione
func (m *Manager) LastQR() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQR
}

// Disconnect chiude il client in fase di spegnimento del processo
func (m *Manager) Disconnect() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
}

// qrLoop consuma il canale QR di whatsmeow e pubblica i codici
func (m *Manager) qrLoop(generation string, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			log.Println("Scansiona questo codice QR con WhatsApp")

			dataURL, err := qrDataURL(evt.Code)
			if err != nil {
				log.Printf("Errore nella generazione dell'immagine QR: %v", err)
				dataURL = ""
			}
			m.setQR(generation, dataURL)
		case "success":
			// La conferma definitiva arriva con PairSuccess/Connected
		default:
			// timeout o errore del canale QR: la credenziale non è stata accettata
			log.Println("Evento QR:", evt.Event)
			m.setState(generation, models.SessionAuthFailed)
		}
	}
}

// handleEvent traduce gli eventi whatsmeow nelle transizioni di stato.
// Gli eventi di una generazione superata vengono ignorati: due handle non
// devono mai emettere transizioni sovrapposte.
func (m *Manager) handleEvent(generation string, evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		log.Println("Autenticazione riuscita!")
		m.setState(generation, models.SessionAuthenticated)

	case *events.PairError:
		log.Printf("Autenticazione fallita: %v", v.Error)
		m.setState(generation, models.SessionAuthFailed)

	case *events.Connected:
		log.Println("Client WhatsApp pronto!")
		m.setReady(generation)

	case *events.StreamReplaced:
		log.Println("Stream sostituito da un'altra connessione")
		m.setState(generation, models.SessionDisconnected)

	case *events.Disconnected:
		log.Println("Client WhatsApp disconnesso")
		m.setState(generation, models.SessionDisconnected)

	case *events.LoggedOut:
		log.Printf("Dispositivo scollegato (motivo: %v)", v.Reason)
		m.setState(generation, models.SessionDisconnected)
	}
}

// setState applica una transizione se la generazione è ancora quella viva
func (m *Manager) setState(generation string, state models.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation {
		return
	}

	m.state = state
	if state != models.SessionQRPending {
		m.lastQR = ""
	}
	if state != models.SessionReady {
		m.account = nil
	}

	// Broadcast sotto lock: l'ordine delle transizioni visto da un singolo
	// osservatore deve essere quello reale. L'Hub accoda soltanto, mai
	// bloccandosi su un osservatore lento, quindi il lock non resta mai
	// appeso a una connessione
	m.notifier.BroadcastStatus(state)
}

// setReady porta la sessione a READY e risolve l'account collegato
func (m *Manager) setReady(generation string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || m.client == nil {
		return
	}

	m.state = models.SessionReady
	m.lastQR = ""

	var info models.AccountInfo
	if store := m.client.Store; store != nil {
		info.Name = store.PushName
		info.Platform = store.Platform
		if store.ID != nil {
			info.Number = store.ID.User
		}
	}
	m.account = &info

	m.notifier.BroadcastStatus(models.SessionReady)
	m.notifier.BroadcastUserInfo(info)
}

// setQR registra e pubblica un nuovo codice QR
func (m *Manager) setQR(generation string, dataURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation {
		return
	}

	m.state = models.SessionQRPending
	m.lastQR = dataURL

	m.notifier.BroadcastStatus(models.SessionQRPending)
	if dataURL != "" {
		m.notifier.BroadcastQR(dataURL)
	}
}

// qrDataURL codifica il testo del QR in un data URL PNG per il frontend
func qrDataURL(text string) (string, error) {
	code, err := qr.Encode(text, qr.L)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(code.PNG()), nil
}
