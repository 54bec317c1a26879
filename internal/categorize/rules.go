// Package categorize assigns spending categories to transactions and
// maintains the merchant baseline used for anomaly detection.
package categorize

import "regexp"

// Categories is the closed vocabulary. Adding a label requires touching both
// this list and the rule table below so the validator and rules stay in step.
var Categories = []string{
	"income",
	"housing",
	"utilities",
	"groceries",
	"dining",
	"shopping",
	"subscriptions",
	"gas",
	"travel",
	"entertainment",
	"healthcare",
	"insurance",
	"education",
	"personal_care",
	"fees",
	"taxes",
	"investments",
	"transfer",
	"atm/cash",
	"other",
}

// ValidCategory reports whether label is part of the vocabulary
func ValidCategory(label string) bool {
	for _, c := range Categories {
		if c == label {
			return true
		}
	}
	return false
}

// rule is one ordered entry of the rule table; first match wins
type rule struct {
	pattern  *regexp.Regexp
	category string
}

// ruleTable is evaluated top to bottom, case-insensitively
var ruleTable = []rule{
	{regexp.MustCompile(`(?i)amazon|walmart|target|costco|kroger`), "shopping"},
	{regexp.MustCompile(`(?i)netflix|spotify|hulu|disney|apple.*sub`), "subscriptions"},
	{regexp.MustCompile(`(?i)uber.*eat|doordash|grubhub|chipotle|mcdonald`), "dining"},
	{regexp.MustCompile(`(?i)shell|chevron|exxon|bp|mobil|gas.*station`), "gas"},
	{regexp.MustCompile(`(?i)payroll|salary|direct.*dep`), "income"},
	{regexp.MustCompile(`(?i)electric|gas.*utility|water.*util|xcel|pg&e`), "utilities"},
	{regexp.MustCompile(`(?i)cvs|walgreens|pharmacy|medical|dental|doctor`), "healthcare"},
	{regexp.MustCompile(`(?i)transfer|zelle|venmo|paypal.*transfer`), "transfer"},
	{regexp.MustCompile(`(?i)atm|cash.*advance`), "atm/cash"},
}

// matchRules runs the description through the rule table
func matchRules(description string) (string, bool) {
	for _, r := range ruleTable {
		if r.pattern.MatchString(description) {
			return r.category, true
		}
	}
	return "", false
}
