// internal/db/db.go
package db

import (
    "database/sql"
    "fmt"

    _ "github.com/lib/pq"
)

// Config holds the Postgres connection parameters, read from the
// environment by the cmd binaries and passed down explicitly.
type Config struct {
    User     string
    Password string
    Host     string
    Port     string
    Name     string
    SSLMode  string
}

func (c Config) DSN() string {
    sslMode := c.SSLMode
    if sslMode == "" {
        sslMode = "disable"
    }
    return fmt.Sprintf(
        "postgres://%s:%s@%s:%s/%s?sslmode=%s",
        c.User, c.Password, c.Host, c.Port, c.Name, sslMode,
    )
}

// Open connects to Postgres and verifies the connection. The returned
// handle is injected into repositories; there is no package-level pool.
func Open(cfg Config) (*sql.DB, error) {
    conn, err := sql.Open("postgres", cfg.DSN())
    if err != nil {
        return nil, fmt.Errorf("failed to connect to DB: %w", err)
    }
    if err := conn.Ping(); err != nil {
        conn.Close()
        return nil, fmt.Errorf("failed to ping DB: %w", err)
    }
    return conn, nil
}
