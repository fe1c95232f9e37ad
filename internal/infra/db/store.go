package db

import (
	"fmt"
	"log"

	"consentd/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store owns the shared gorm handle. With no DSN configured the service
// falls back to the in-memory repositories; every repository here answers
// errDBUnavailable if it is constructed against a nil handle anyway.
type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		log.Printf("POSTGRES_DSN not set; starting in no-db mode.")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &Store{DB: gdb}, nil
}
