package storage

import (
	"mte/internal/config"
	"mte/internal/domain"
)

// Storage persists and loads the last test run (e.g. for the results viewer).
type Storage interface {
	Save(summary domain.RunSummary, nodes []*domain.TestNode, workers int) error
	Load() (*domain.RunResultsOutput, error)
	// SaveOutput writes an already assembled output as is.
	SaveOutput(output *domain.RunResultsOutput) error
}

// JSONStorage stores results in a JSON file under the configured output path.
type JSONStorage struct {
	path string
}

// NewJSONStorage returns a Storage that reads/writes the config's output JSON path.
func NewJSONStorage(cfg *config.Config) *JSONStorage {
	return &JSONStorage{path: cfg.GetOutputPath()}
}

// Path returns the results file
func (s *JSONStorage) Path() string {
	return s.path
}
