package parsers

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
)

// ParseBrokerPositions parses a brokerage positions export. These files carry
// preamble rows (account headers, disclaimers) before the real header, so
// parsing starts at the first row containing both "Symbol" and "Quantity".
// Rows with empty or placeholder symbols ("--", repeated "Symbol" headers,
// blanks) are skipped.
func ParseBrokerPositions(data []byte) Result {
	meta := AccountMeta{Institution: "brokerage", AccountType: "INVESTMENT"}

	rows := readAllRows(data)
	headerRow := -1
	for i, row := range rows {
		joined := strings.Join(row, ",")
		if strings.Contains(joined, "Symbol") && strings.Contains(joined, "Quantity") {
			headerRow = i
			break
		}
	}
	if headerRow == -1 {
		return Result{Meta: meta}
	}

	cols := headerIndex(rows[headerRow])
	symbolIdx, _ := lookupColumn(cols, "Symbol")
	descIdx, descOK := lookupColumn(cols, "Description")
	qtyIdx, _ := lookupColumn(cols, "Quantity")
	priceIdx, priceOK := lookupColumn(cols, "Last Price")
	valueIdx, valueOK := lookupColumn(cols, "Current Value")
	basisIdx, basisOK := lookupColumn(cols, "Cost Basis")
	gainIdx, gainOK := lookupColumn(cols, "Gain/Loss")

	var positions []BrokerPosition
	for _, row := range rows[headerRow+1:] {
		symbol := strings.TrimSpace(field(row, symbolIdx))
		if symbol == "" || symbol == "--" || symbol == "Symbol" {
			continue
		}
		qty, ok := parseAmount(field(row, qtyIdx))
		if !ok {
			continue
		}

		pos := BrokerPosition{Symbol: symbol, Quantity: qty}
		if descOK {
			pos.Description = strings.TrimSpace(field(row, descIdx))
		}
		if priceOK {
			pos.LastPrice, _ = parseAmount(field(row, priceIdx))
		}
		if valueOK {
			pos.CurrentValue, _ = parseAmount(field(row, valueIdx))
		}
		if basisOK {
			pos.CostBasis, _ = parseAmount(field(row, basisIdx))
		}
		if gainOK {
			pos.GainLoss, _ = parseAmount(field(row, gainIdx))
		}
		positions = append(positions, pos)
	}

	return Result{Meta: meta, Positions: positions}
}

// ParseBrokerActivity parses a brokerage activity export. Accepted column
// names: "Date" or "Settlement Date" for the date, "Description" or "Action"
// for the name, "Amount" for the amount. Rows missing a date or an amount are
// dropped.
func ParseBrokerActivity(data []byte) Result {
	meta := AccountMeta{Institution: "brokerage", AccountType: "INVESTMENT"}

	rows := readAllRows(data)
	if len(rows) == 0 {
		return Result{Meta: meta}
	}

	cols := headerIndex(rows[0])
	dateIdx, dateOK := lookupColumn(cols, "Date")
	if !dateOK {
		dateIdx, dateOK = lookupColumn(cols, "Settlement Date")
	}
	descIdx, descOK := lookupColumn(cols, "Description")
	if !descOK {
		descIdx, descOK = lookupColumn(cols, "Action")
	}
	amountIdx, amountOK := lookupColumn(cols, "Amount")
	if !dateOK || !amountOK {
		return Result{Meta: meta}
	}

	var txns []RawTransaction
	for _, row := range rows[1:] {
		rawDate := strings.TrimSpace(field(row, dateIdx))
		date, ok := NormalizeDate(rawDate)
		if !ok {
			continue
		}
		amount, ok := parseAmount(field(row, amountIdx))
		if !ok {
			continue
		}

		name := ""
		if descOK {
			name = strings.TrimSpace(field(row, descIdx))
		}
		if name == "" {
			name = "Unknown"
		}

		txns = append(txns, RawTransaction{
			Date:   date,
			Name:   name,
			Amount: amount,
		})
	}

	return Result{Meta: meta, Transactions: txns}
}

// readAllRows reads every CSV row, tolerating ragged field counts
func readAllRows(data []byte) [][]string {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
