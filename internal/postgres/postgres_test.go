package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		User:     "ledger",
		Password: "p@ss:word",
		Host:     "db",
		Port:     5432,
		Name:     "tixledger",
		SSLMode:  "disable",
	}

	assert.Equal(t, "postgres://ledger:p%40ss%3Aword@db:5432/tixledger?sslmode=disable", cfg.DSN())
}
