package categorize

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Txn is the minimal transaction view the categorizer needs
type Txn struct {
	ID          string
	Description string
}

// Categorizer resolves categories via the merchant cache, then the rule
// table, then one batched LLM call for whatever remains.
type Categorizer struct {
	repo *Repository
	llm  *LLMClient // nil = LLM disabled
	log  zerolog.Logger
}

// NewCategorizer creates a new categorizer
func NewCategorizer(repo *Repository, llm *LLMClient, log zerolog.Logger) *Categorizer {
	return &Categorizer{
		repo: repo,
		llm:  llm,
		log:  log.With().Str("component", "categorizer").Logger(),
	}
}

// Categorize assigns a category to every transaction. Every decision is
// written to the merchant cache (first decision wins). Categorize is total:
// cache and LLM failures degrade to "other".
func (c *Categorizer) Categorize(ctx context.Context, txns []Txn) map[string]string {
	result := make(map[string]string, len(txns))

	var pending []Txn
	for _, txn := range txns {
		merchant := normalizeMerchant(txn.Description)
		if merchant == "" {
			result[txn.ID] = "other"
			continue
		}

		if cached, err := c.repo.GetCategory(merchant); err != nil {
			c.log.Warn().Err(err).Str("merchant", merchant).Msg("Category cache lookup failed")
		} else if cached != "" {
			result[txn.ID] = cached
			continue
		}

		if category, ok := matchRules(txn.Description); ok {
			result[txn.ID] = category
			c.saveDecision(merchant, category, "rule")
			continue
		}

		pending = append(pending, txn)
	}

	if len(pending) == 0 {
		return result
	}

	if c.llm == nil {
		for _, txn := range pending {
			result[txn.ID] = "other"
		}
		return result
	}

	descriptions := make([]string, len(pending))
	for i, txn := range pending {
		descriptions[i] = txn.Description
	}
	labels := c.llm.CategorizeBatch(ctx, descriptions)
	for i, txn := range pending {
		result[txn.ID] = labels[i]
		c.saveDecision(normalizeMerchant(txn.Description), labels[i], "ai")
	}

	return result
}

func (c *Categorizer) saveDecision(merchant, category, source string) {
	if merchant == "" {
		return
	}
	if err := c.repo.SaveCategory(merchant, category, source); err != nil {
		c.log.Warn().Err(err).Str("merchant", merchant).Msg("Failed to cache category decision")
	}
}

// normalizeMerchant lowercases and trims a description for cache keys
func normalizeMerchant(description string) string {
	return strings.ToLower(strings.TrimSpace(description))
}
