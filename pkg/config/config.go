package config

import (
	"encoding/json"
	"os"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/logger"
)

type Config struct {
	Local   LocalConfig   `json:"local"`
	Remote  RemoteConfig  `json:"remote"`
	Sync    SyncConfig    `json:"sync"`
	Logging LoggingConfig `json:"logging"`
}

// LocalConfig points at the on-device sqlite store.
type LocalConfig struct {
	Path string `json:"path"`
}

// RemoteConfig points at the durable postgres store.
type RemoteConfig struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
}

type SyncConfig struct {
	UserID               int64 `json:"user_id"`
	FlushIntervalSeconds int   `json:"flush_interval_seconds"`
	MaxAttempts          int   `json:"max_attempts"`
	BackoffBaseMs        int   `json:"backoff_base_ms"`
	BackoffMaxMs         int   `json:"backoff_max_ms"`
}

type LoggingConfig struct {
	Level     string `json:"level"`
	File      string `json:"file"`
	GormLevel string `json:"gorm_level"`
}

var AppConfig Config

func LoadConfig(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		logger.Error("failed to open config file", "error", err)
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&AppConfig); err != nil {
		logger.Error("failed to decode config file", "error", err)
		return err
	}

	return nil
}
