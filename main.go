package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"

	"github.com/SudoRV/WhatsApp-Scheduler/handlers"
	"github.com/SudoRV/WhatsApp-Scheduler/persistence"
	"github.com/SudoRV/WhatsApp-Scheduler/scheduler"
	"github.com/SudoRV/WhatsApp-Scheduler/utils"
	"github.com/SudoRV/WhatsApp-Scheduler/whatsapp"
)

func main() {
	// Carica la configurazione (default se il file non esiste)
	config, err := utils.LoadConfig("config.json")
	if err != nil {
		log.Fatalf("Errore nel caricamento della configurazione: %v", err)
	}

	// Relay WebSocket per gli osservatori
	hub := handlers.NewHub()

	// Store durevole delle programmazioni
	store, err := persistence.NewScheduleStore(config.Storage.SchedulesPath)
	if err != nil {
		log.Fatalf("Errore nell'apertura dello store delle programmazioni: %v", err)
	}
	defer store.Close()

	// Slot della sessione WhatsApp
	session, err := whatsapp.NewManager(config.Storage.SessionDSN, hub)
	if err != nil {
		log.Fatalf("Errore nella creazione del client WhatsApp: %v", err)
	}

	// Scheduler dei messaggi programmati
	sched := scheduler.NewScheduler(store, session, hub, config.Scheduler.KeepFailedOnce)
	defer sched.Stop()

	// Riarma le programmazioni sopravvissute al riavvio.
	// Le once già scadute vengono rimosse senza inviare nulla.
	restored := store.LoadOnStartup()
	sched.RestoreAll(restored)
	log.Printf("Caricate %d programmazioni persistite", len(restored))

	// Avvia la sessione WhatsApp: QR fresco oppure credenziali salvate
	log.Println("Inizializzazione del client WhatsApp...")
	if err := session.Initialize(); err != nil {
		// Il processo resta su: la sessione può essere ricollegata via POST /link
		log.Printf("Errore nell'inizializzazione del client WhatsApp: %v", err)
	}

	// Configura il server API
	router := gin.Default()
	handlers.SetupAPIRoutes(router, session, sched, store, hub, config.Scheduler.DefaultTimezone)

	// Avvia il server HTTP in una goroutine
	go func() {
		addr := fmt.Sprintf(":%d", config.Server.Port)
		if err := router.Run(addr); err != nil {
			log.Fatalf("Errore nell'avvio del server: %v", err)
		}
	}()

	log.Printf("Server in ascolto su http://localhost:%d", config.Server.Port)

	// Gestisci chiusura corretta
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("Disconnessione...")
	session.Disconnect()
}
