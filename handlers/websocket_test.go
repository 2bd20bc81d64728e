package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialAndWait(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	// Lascia al server il tempo di registrare l'osservatore
	time.Sleep(50 * time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestObserverReceivesTransitionsInOrder(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dialAndWait(t, url)

	hub.BroadcastStatus(models.SessionQRPending)
	hub.BroadcastStatus(models.SessionAuthenticated)
	hub.BroadcastStatus(models.SessionReady)

	for _, expected := range []models.SessionState{
		models.SessionQRPending,
		models.SessionAuthenticated,
		models.SessionReady,
	} {
		msg := readMessage(t, conn)
		assert.Equal(t, models.WSTypeStatus, msg.Type)
		assert.Equal(t, string(expected), msg.Payload)
	}
}

func TestNewObserverGetsCurrentStateReplayed(t *testing.T) {
	hub, url := newTestHub(t)

	// Eventi emessi prima che l'osservatore si colleghi
	hub.BroadcastStatus(models.SessionQRPending)
	hub.BroadcastQR("data:image/png;base64,AAAA")

	conn := dialAndWait(t, url)

	msg := readMessage(t, conn)
	assert.Equal(t, models.WSTypeStatus, msg.Type)
	assert.Equal(t, string(models.SessionQRPending), msg.Payload)

	msg = readMessage(t, conn)
	assert.Equal(t, models.WSTypeQR, msg.Type)
	assert.Equal(t, "data:image/png;base64,AAAA", msg.Payload)
}

func TestQRClearedOnLaterTransition(t *testing.T) {
	hub, url := newTestHub(t)

	hub.BroadcastStatus(models.SessionQRPending)
	hub.BroadcastQR("data:image/png;base64,AAAA")
	hub.BroadcastStatus(models.SessionReady)

	// Chi si collega dopo il READY non deve rivedere il QR ormai superato
	conn := dialAndWait(t, url)

	msg := readMessage(t, conn)
	assert.Equal(t, models.WSTypeStatus, msg.Type)
	assert.Equal(t, string(models.SessionReady), msg.Payload)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra models.WSMessage
	assert.Error(t, conn.ReadJSON(&extra), "nessun altro messaggio atteso")
}

func TestStuckObserverDoesNotBlockBroadcasts(t *testing.T) {
	hub, url := newTestHub(t)

	// Un osservatore collegato che non legge mai dalla connessione
	dialAndWait(t, url)

	payload := "data:image/png;base64," + strings.Repeat("A", 64*1024)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.BroadcastQR(payload)
		}
		hub.BroadcastStatus(models.SessionReady)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("un osservatore che non legge non deve bloccare chi pubblica")
	}

	// L'osservatore con la coda piena viene scartato
	assert.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Il relay resta funzionante per chi si collega dopo
	conn := dialAndWait(t, url)
	msg := readMessage(t, conn)
	assert.Equal(t, models.WSTypeStatus, msg.Type)
	assert.Equal(t, string(models.SessionReady), msg.Payload)
}

func TestObserverLossDoesNotAffectBroadcast(t *testing.T) {
	hub, url := newTestHub(t)

	gone := dialAndWait(t, url)
	alive := dialAndWait(t, url)

	gone.Close()
	hub.BroadcastSchedule(models.ScheduleEvent{Action: "fired", AccountID: "123"})

	msg := readMessage(t, alive)
	assert.Equal(t, models.WSTypeSchedule, msg.Type)
}
