package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	"github.com/lib/pq"
	"github.com/opensource-finance/tierprice/internal/domain"
)

// openPostgres opens a PostgreSQL database through a lib/pq connector.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to configure postgres connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// postgresDSN builds a URL-style DSN so credentials are escaped.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "tierprice"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + dbname,
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	q := url.Values{}
	q.Set("sslmode", getSSLMode(cfg.PostgresSSLMode))
	q.Set("application_name", "tierprice")
	u.RawQuery = q.Encode()
	return u.String()
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
