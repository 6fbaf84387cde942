package pgstore

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Config defines fields used for connecting to the documents database.
type Config struct {
	Host     string `env:"DOCSTORE_HOST" envDefault:"localhost"`
	Port     uint16 `env:"DOCSTORE_PORT" envDefault:"5432"`
	User     string `env:"DOCSTORE_USER" envDefault:"postgres"`
	Password string `env:"DOCSTORE_PASSWORD" envDefault:"postgres"`
	Database string `env:"DOCSTORE_DB" envDefault:"chatsync"`
}

// DSN renders the config as a pgx connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// Option alters the default pgxpool.Config used during Store construction.
type Option interface {
	apply(*pgxpool.Config)
}

type optionFunc func(c *pgxpool.Config)

func (f optionFunc) apply(c *pgxpool.Config) { f(c) }

// ConnectionTimeout sets timeout for connection to be established.
func ConnectionTimeout(d time.Duration) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.ConnConfig.ConnectTimeout = d
	})
}

// MaxConns caps the connection pool size.
func MaxConns(n int32) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.MaxConns = n
	})
}
