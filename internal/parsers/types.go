// Package parsers converts institution file formats into normalized
// transaction sequences. Supported formats: OFX/QFX (XML or SGML style),
// profile-driven CSV exports, and broker position/activity CSVs.
//
// Amount sign convention: negative = money leaving the account (withdrawal),
// positive = deposit.
package parsers

import (
	"path/filepath"
	"strings"
)

// RawTransaction is a normalized transaction produced by any parser
type RawTransaction struct {
	ID     string  `json:"id,omitempty"` // External id (OFX FITID); empty when the source has none
	Date   string  `json:"date"`         // YYYY-MM-DD
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Type   string  `json:"type,omitempty"`
	Memo   string  `json:"memo,omitempty"`
}

// AccountMeta describes the account a file belongs to
type AccountMeta struct {
	AccountID   string   `json:"account_id"`
	AccountType string   `json:"account_type"`
	Institution string   `json:"institution"`
	Balance     *float64 `json:"balance,omitempty"`
	BalanceDate string   `json:"balance_date,omitempty"`
}

// BrokerPosition is one holding row from a brokerage positions export
type BrokerPosition struct {
	Symbol       string  `json:"symbol"`
	Description  string  `json:"description"`
	Quantity     float64 `json:"quantity"`
	LastPrice    float64 `json:"last_price"`
	CurrentValue float64 `json:"current_value"`
	CostBasis    float64 `json:"cost_basis"`
	GainLoss     float64 `json:"gain_loss"`
}

// Result is the uniform parser output
type Result struct {
	Meta         AccountMeta
	Transactions []RawTransaction
	Positions    []BrokerPosition // Only set by the broker positions parser
}

// CSVProfile drives column mapping for a per-institution CSV export
type CSVProfile struct {
	DateColumn        string `json:"date_column"`
	AmountColumn      string `json:"amount_column"`
	DescriptionColumn string `json:"description_column"`
	CreditColumn      string `json:"credit_column,omitempty"`
	DebitColumn       string `json:"debit_column,omitempty"`
	InvertAmount      bool   `json:"invert_amount,omitempty"`
	Institution       string `json:"institution,omitempty"`
}

// Kind identifies a parser variant
type Kind string

const (
	KindOFX             Kind = "ofx"
	KindCSV             Kind = "csv"
	KindBrokerPositions Kind = "broker_positions"
	KindBrokerActivity  Kind = "broker_activity"
)

// Detect picks a parser variant from a filename and an optional institution
// hint. OFX and QFX extensions always win; CSVs route to the broker parsers
// when the hint names a brokerage export.
func Detect(filename, hint string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".ofx", ".qfx":
		return KindOFX
	}
	switch strings.ToLower(hint) {
	case "broker_positions", "positions":
		return KindBrokerPositions
	case "broker_activity", "activity":
		return KindBrokerActivity
	}
	return KindCSV
}

// Parse dispatches to the parser variant for the given kind
func Parse(kind Kind, data []byte, profile *CSVProfile) Result {
	switch kind {
	case KindOFX:
		return ParseOFX(data)
	case KindBrokerPositions:
		return ParseBrokerPositions(data)
	case KindBrokerActivity:
		return ParseBrokerActivity(data)
	default:
		if profile == nil {
			profile = &CSVProfile{DateColumn: "Date", AmountColumn: "Amount", DescriptionColumn: "Description"}
		}
		return ParseCSV(data, *profile)
	}
}
