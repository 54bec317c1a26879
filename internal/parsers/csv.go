package parsers

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
)

// ParseCSV parses a per-institution CSV export driven by a column profile.
// When the profile configures split credit/debit columns, the net signed
// amount is credit minus debit. InvertAmount negates the parsed amount, for
// sources that record outflows as positive.
//
// A row whose date fails to parse keeps the row with today's date; a row
// whose amount is not numeric is dropped.
func ParseCSV(data []byte, profile CSVProfile) Result {
	meta := AccountMeta{Institution: profile.Institution}
	if meta.Institution == "" {
		meta.Institution = "unknown"
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Result{Meta: meta}
	}

	cols := headerIndex(header)
	dateIdx, dateOK := lookupColumn(cols, profile.DateColumn)
	descIdx, descOK := lookupColumn(cols, profile.DescriptionColumn)
	amountIdx, amountOK := lookupColumn(cols, profile.AmountColumn)
	creditIdx, creditOK := lookupColumn(cols, profile.CreditColumn)
	debitIdx, debitOK := lookupColumn(cols, profile.DebitColumn)

	var txns []RawTransaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed row: drop it, keep parsing the file
			continue
		}

		var amount float64
		switch {
		case creditOK && debitOK:
			credit, cOK := parseAmount(field(record, creditIdx))
			debit, dOK := parseAmount(field(record, debitIdx))
			if !cOK && !dOK {
				continue
			}
			amount = credit - debit
		case amountOK:
			v, ok := parseAmount(field(record, amountIdx))
			if !ok {
				continue
			}
			amount = v
		default:
			continue
		}
		if profile.InvertAmount {
			amount = -amount
		}

		date := ""
		if dateOK {
			date = field(record, dateIdx)
		}

		name := ""
		if descOK {
			name = strings.TrimSpace(field(record, descIdx))
		}
		if name == "" {
			name = "Unknown"
		}

		txns = append(txns, RawTransaction{
			Date:   NormalizeDateOrToday(date),
			Name:   name,
			Amount: amount,
		})
	}

	return Result{Meta: meta, Transactions: txns}
}

// headerIndex maps normalized header names to their column positions
func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		if _, exists := cols[key]; !exists {
			cols[key] = i
		}
	}
	return cols
}

func lookupColumn(cols map[string]int, name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	idx, ok := cols[strings.ToLower(strings.TrimSpace(name))]
	return idx, ok
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// parseAmount strips every character except digits, '.' and '-' before
// parsing. Returns false for empty or non-numeric values.
func parseAmount(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
