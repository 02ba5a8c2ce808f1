package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPgxURL(t *testing.T) {
	require.Equal(t, "pgx5://billing@db:5432/billing?sslmode=disable", pgxURL("postgres://billing@db:5432/billing?sslmode=disable"))
	require.Equal(t, "pgx5://u@h/d", pgxURL("postgresql://u@h/d"))
	require.Equal(t, "pgx5://u@h/d", pgxURL("pgx5://u@h/d"))
}
