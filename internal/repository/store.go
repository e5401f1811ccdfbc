package repository

import "github.com/core-coin/x402/internal/models"

var (
	_ models.Store = (*PostgresDB)(nil)
	_ models.Store = (*MemoryDB)(nil)
)
