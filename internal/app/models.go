package app

import (
	"chatcore/pkg/domain"
)

// DefaultModels is the catalog seeded into an empty deployment.
func DefaultModels() []domain.Model {
	return []domain.Model{
		{
			Name:            "GPT-4o",
			Provider:        "openai",
			ExternalModelID: "gpt-4o",
			CostPer1KTokens: 15,
			MaxTokens:       128000,
			Active:          true,
		},
		{
			Name:            "GPT-4o mini",
			Provider:        "openai",
			ExternalModelID: "gpt-4o-mini",
			CostPer1KTokens: 2,
			MaxTokens:       128000,
			Active:          true,
		},
		{
			Name:            "Claude Sonnet",
			Provider:        "anthropic",
			ExternalModelID: "claude-3-5-sonnet",
			CostPer1KTokens: 12,
			MaxTokens:       200000,
			Active:          true,
		},
		{
			Name:            "Llama 3 70B",
			Provider:        "meta",
			ExternalModelID: "llama-3-70b-instruct",
			CostPer1KTokens: 1,
			MaxTokens:       8192,
			Active:          false,
		},
	}
}

// ListModels returns the catalog; activeOnly filters to selectable entries.
func (a *App) ListModels(activeOnly bool) ([]domain.Model, error) {
	return a.store.ListModels(activeOnly)
}

// SeedModels populates an empty catalog and reports how many entries were
// inserted. Re-running against a seeded catalog is a no-op.
func (a *App) SeedModels() (int, error) {
	return a.store.SeedModels(DefaultModels())
}

// SetModelActive flips a catalog entry's activity flag.
func (a *App) SetModelActive(modelID string, active bool) error {
	return a.store.SetModelActive(modelID, active)
}
