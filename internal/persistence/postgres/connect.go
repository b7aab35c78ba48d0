package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

// DSN groups the connection parameters for one logical database (§6:
// `primary` or `unified`).
type DSN struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

func (d DSN) String() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, sslmode)
}

// Connect opens and pings a *sqlx.DB for the given DSN, applying pool
// limits. Callers get back a plain *sqlx.DB; each repo constructor wraps it
// with its own query timeout.
func Connect(ctx context.Context, dsn DSN) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("connect postgres %s: %w", dsn.Database, err)
	}

	if dsn.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dsn.MaxOpenConns)
	}
	if dsn.MaxIdleConns > 0 {
		db.SetMaxIdleConns(dsn.MaxIdleConns)
	}
	if dsn.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(dsn.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", dsn.Database, err)
	}

	return db, nil
}

// pinger adapts *sqlx.DB to persistence.HealthCheck.
type pinger struct{ db *sqlx.DB }

// NewHealthCheck wraps a connected *sqlx.DB for use as a persistence.HealthCheck.
func NewHealthCheck(db *sqlx.DB) *pinger { return &pinger{db: db} }

func (p *pinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
