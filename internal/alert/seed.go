package alert

import (
	"context"
	"errors"

	"smartbuilding/internal/models"
)

// SeedResult is the outcome of installing one rule.
type SeedResult struct {
	Name    string
	ID      uint
	Skipped bool // a rule with that name already exists
	Err     error
}

// Seed creates each rule, leaving existing names untouched. It stops only when
// ctx is done.
func Seed(ctx context.Context, store Store, rules []models.AlertRule) []SeedResult {
	results := make([]SeedResult, 0, len(rules))
	for i := range rules {
		if ctx.Err() != nil {
			break
		}
		rule := rules[i]
		res := SeedResult{Name: rule.Name}
		id, err := store.Create(ctx, &rule)
		switch {
		case errors.Is(err, ErrDuplicateName):
			res.Skipped = true
		case err != nil:
			res.Err = err
		default:
			res.ID = id
		}
		results = append(results, res)
	}
	return results
}
