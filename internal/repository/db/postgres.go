package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// NewPostgresDB opens the direct connection used for schema migrations.
func NewPostgresDB(conn string) (*sql.DB, error) {
	log.WithField("conn", redact(conn)).Info("Connecting db")
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, fmt.Errorf("db.NewPostgresDB: %w", err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("db.NewPostgresDB: %w", err)
	}

	return db, nil
}
