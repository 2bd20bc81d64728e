package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

const (
	// Oltre questo limite la scrittura verso un osservatore viene abortita
	// e l'osservatore scartato
	wsWriteTimeout = 10 * time.Second
	// Coda di invio per osservatore: se è piena l'osservatore non sta
	// leggendo e viene scartato
	wsSendQueueSize = 32
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Consenti tutte le origini
	},
}

// wsClient è un osservatore collegato, con la sua coda di invio privata
type wsClient struct {
	conn *websocket.Conn
	send chan models.WSMessage
}

// Hub è il relay degli eventi del ciclo di vita verso i client WebSocket.
// Chi pubblica non si blocca mai: ogni osservatore ha una coda privata
// svuotata da una goroutine dedicata, e un osservatore lento o caduto
// viene scartato senza toccare lo stato della sessione o dello scheduler.
// Gli accodamenti avvengono sotto un unico mutex e ogni connessione ha un
// solo scrittore, quindi ogni osservatore vede le transizioni nell'ordine
// in cui sono avvenute.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool

	// Ultimi eventi, ritrasmessi ai nuovi osservatori appena si collegano
	lastStatus *models.WSMessage
	lastQR     *models.WSMessage
	lastUser   *models.WSMessage
}

// NewHub crea il relay senza osservatori
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

// HandleWebSocket gestisce le connessioni WebSocket
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.String(http.StatusInternalServerError, "Could not upgrade connection")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan models.WSMessage, wsSendQueueSize),
	}

	h.mu.Lock()
	h.clients[client] = true
	// Replay dello stato corrente così il frontend può disegnare subito.
	// Accodato sotto lo stesso mutex dei broadcast: finisce in coda prima
	// di qualunque evento successivo
	for _, msg := range []*models.WSMessage{h.lastStatus, h.lastQR, h.lastUser} {
		if msg != nil {
			client.send <- *msg
		}
	}
	h.mu.Unlock()

	go h.writeLoop(client)

	// Loop di lettura: serve solo ad accorgersi della chiusura
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(client)
}

// writeLoop consegna la coda di un osservatore sulla sua connessione
func (h *Hub) writeLoop(client *wsClient) {
	for msg := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := client.conn.WriteJSON(msg); err != nil {
			h.drop(client)
			// La coda, ormai chiusa, viene svuotata e la goroutine esce
		}
	}
}

// drop scollega un osservatore. La perdita di una connessione non tocca
// mai la sessione o lo scheduler.
func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	client.conn.Close()
}

// broadcast accoda un messaggio a tutti gli osservatori, senza mai
// bloccarsi: chi ha la coda piena viene scartato
func (h *Hub) broadcast(msg models.WSMessage) {
	var slow []*wsClient

	h.mu.Lock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	// Chiudere la connessione sblocca anche un'eventuale scrittura in corso
	for _, client := range slow {
		client.conn.Close()
	}
}

// BroadcastStatus pubblica una transizione di stato della sessione
func (h *Hub) BroadcastStatus(state models.SessionState) {
	msg := models.WSMessage{Type: models.WSTypeStatus, Payload: state}

	h.mu.Lock()
	h.lastStatus = &msg
	if state != models.SessionQRPending {
		h.lastQR = nil
	}
	if state != models.SessionReady {
		h.lastUser = nil
	}
	h.mu.Unlock()

	h.broadcast(msg)
}

// BroadcastQR pubblica un nuovo QR code (data URL PNG)
func (h *Hub) BroadcastQR(dataURL string) {
	msg := models.WSMessage{Type: models.WSTypeQR, Payload: dataURL}

	h.mu.Lock()
	h.lastQR = &msg
	h.mu.Unlock()

	h.broadcast(msg)
}

// BroadcastUserInfo pubblica l'account collegato (su READY)
func (h *Hub) BroadcastUserInfo(info models.AccountInfo) {
	msg := models.WSMessage{Type: models.WSTypeUserInfo, Payload: info}

	h.mu.Lock()
	h.lastUser = &msg
	h.mu.Unlock()

	h.broadcast(msg)
}

// BroadcastSchedule pubblica l'esito o la mutazione di una programmazione
func (h *Hub) BroadcastSchedule(event models.ScheduleEvent) {
	h.broadcast(models.WSMessage{Type: models.WSTypeSchedule, Payload: event})
}
