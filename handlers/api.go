package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SudoRV/WhatsApp-Scheduler/models"
	"github.com/SudoRV/WhatsApp-Scheduler/persistence"
	"github.com/SudoRV/WhatsApp-Scheduler/scheduler"
	"github.com/SudoRV/WhatsApp-Scheduler/utils"
)

// ScheduleRequest è il body di POST /schedule
type ScheduleRequest struct {
	Number   string `json:"number"`
	Message  string `json:"message"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Repeat   string `json:"repeat"`
}

// SetupAPIRoutes configura tutte le rotte API
func SetupAPIRoutes(router *gin.Engine, session Session, sched *scheduler.Scheduler,
	store *persistence.ScheduleStore, hub *Hub, defaultTimezone string) {

	// Abilita CORS
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Interfaccia web statica
	router.StaticFile("/", "./web/index.html")
	router.Static("/web", "./web")

	// WebSocket per gli eventi del ciclo di vita
	router.GET("/ws", hub.HandleWebSocket)

	// Programma (o sostituisce) l'invio di un messaggio
	router.POST("/schedule", func(c *gin.Context) {
		var req ScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Body JSON non valido"})
			return
		}

		if req.Number == "" || req.Message == "" || req.Time == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "number, message e time sono obbligatori"})
			return
		}

		accountID := utils.NormalizeNumber(req.Number)
		if accountID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Numero di destinazione non valido"})
			return
		}

		fireAt, err := time.Parse(time.RFC3339, req.Time)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid time format"})
			return
		}

		timezone := req.Timezone
		if timezone == "" {
			timezone = defaultTimezone
		}

		repeat := models.Repeat(req.Repeat)
		if req.Repeat == "" {
			repeat = models.RepeatOnce
		}

		record := &models.ScheduleRecord{
			AccountID: accountID,
			Message:   req.Message,
			FireAt:    fireAt,
			Timezone:  timezone,
			Repeat:    repeat,
			CreatedAt: time.Now(),
		}

		// Per distinguere created da replaced nell'evento broadcast
		_, getErr := store.Get(accountID)
		replaced := getErr == nil

		if err := sched.Schedule(record); err != nil {
			var valErr *scheduler.ValidationError
			switch {
			case errors.As(err, &valErr):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": valErr.Error()})
			case errors.Is(err, scheduler.ErrElapsed):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "L'istante indicato è già passato"})
			default:
				// Flush su disco fallito: la programmazione NON è stata registrata
				log.Printf("Errore nella registrazione della programmazione per %s: %v", accountID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Salvataggio della programmazione fallito"})
			}
			return
		}

		action := "created"
		if replaced {
			action = "replaced"
		}
		hub.BroadcastSchedule(models.ScheduleEvent{Action: action, AccountID: accountID})

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"msg":     fmt.Sprintf("Message scheduled for %s (%s)", fireAt.Format(time.RFC3339), repeat),
		})
	})

	// Cancella la programmazione di un numero
	router.DELETE("/schedule/:number", func(c *gin.Context) {
		accountID := utils.NormalizeNumber(c.Param("number"))

		if err := sched.Cancel(accountID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Nessuna programmazione per questo numero"})
				return
			}
			log.Printf("Errore nella cancellazione della programmazione per %s: %v", accountID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Cancellazione fallita"})
			return
		}

		hub.BroadcastSchedule(models.ScheduleEvent{Action: "deleted", AccountID: accountID})
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// Elenca le programmazioni attive
	router.GET("/schedules", func(c *gin.Context) {
		records, err := store.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Errore nella lettura delle programmazioni"})
			return
		}
		if records == nil {
			records = []*models.ScheduleRecord{}
		}
		c.JSON(http.StatusOK, records)
	})

	// Stato corrente della sessione
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, session.Status())
	})

	// Reinizializza il client WhatsApp (QR fresco)
	router.POST("/link", func(c *gin.Context) {
		if err := session.Reinitialize(); err != nil {
			log.Printf("Errore nella reinizializzazione: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "msg": "Failed to reinitialize client."})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "msg": "New QR generated. Scan to link WhatsApp."})
	})

	// Logout dalla sessione WhatsApp
	router.POST("/logout", func(c *gin.Context) {
		if err := session.Logout(); err != nil {
			log.Printf("Errore nel logout: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "msg": "Logout failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "msg": "Logged out successfully"})
	})
}
