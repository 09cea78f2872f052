package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"mte/internal/domain"
)

// Save writes the run summary and a snapshot of the tree to the results file.
func (s *JSONStorage) Save(summary domain.RunSummary, nodes []*domain.TestNode, workers int) error {
	return s.SaveOutput(&domain.RunResultsOutput{
		Meta:  domain.NewRunResultsMeta(summary, workers),
		Nodes: nodes,
	})
}

// Load reads the last run from the results file.
func (s *JSONStorage) Load() (*domain.RunResultsOutput, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}
	var output domain.RunResultsOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return &output, nil
}

// SaveOutput writes the full output to the results file.
func (s *JSONStorage) SaveOutput(output *domain.RunResultsOutput) error {
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
