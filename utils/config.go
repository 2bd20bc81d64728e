package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

// Configurazione del server HTTP
type ServerConfig struct {
	Port int `json:"port"`
}

// Configurazione della persistenza
type StorageConfig struct {
	// File bbolt con le programmazioni
	SchedulesPath string `json:"schedules_path"`
	// DSN sqlite del device store di whatsmeow
	SessionDSN string `json:"session_dsn"`
}

// Configurazione dello scheduler
type SchedulerConfig struct {
	// Zona IANA usata quando la richiesta non ne indica una
	DefaultTimezone string `json:"default_timezone"`
	// Se true una once il cui invio fallisce resta nello store invece di
	// essere scartata in silenzio
	KeepFailedOnce bool `json:"keep_failed_once"`
}

// Configurazione completa
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// Carica la configurazione dal file, applicando i default
func LoadConfig(filePath string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{Port: 3000},
		Storage: StorageConfig{
			SchedulesPath: "schedules.db",
			SessionDSN:    "file:whatsmeow.db?_foreign_keys=on",
		},
		Scheduler: SchedulerConfig{
			DefaultTimezone: "Local",
			KeepFailedOnce:  true,
		},
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Nessun file di configurazione: si parte con i default
			return config, nil
		}
		return nil, fmt.Errorf("errore nell'apertura del file di configurazione: %v", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("errore nella decodifica del file di configurazione: %v", err)
	}

	return config, nil
}
