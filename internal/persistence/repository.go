package persistence

import "ma-crossover-bot-go/internal/models"

// StateRepository defines the interface for checkpoint persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically replaces the stored checkpoint.
	SaveState(state *models.StrategyState) error

	// LoadState loads the checkpoint from storage.
	// If no checkpoint is found, it returns (nil, nil).
	LoadState() (*models.StrategyState, error)

	// Close releases the underlying database.
	Close() error
}
