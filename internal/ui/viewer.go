package ui

import "mte/internal/domain"

// Viewer displays stored run results in an interactive TUI
type Viewer interface {
	View(results *domain.RunResultsOutput) error
}
