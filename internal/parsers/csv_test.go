package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV_SingleAmountColumn(t *testing.T) {
	data := []byte(`Date,Description,Amount
2026-01-10,AMAZON MARKETPLACE,-45.99
2026-01-15,PAYROLL DEPOSIT,"3,500.00"
2026-01-16,,abc
`)
	profile := CSVProfile{
		DateColumn:        "Date",
		AmountColumn:      "Amount",
		DescriptionColumn: "Description",
		Institution:       "testbank",
	}

	res := ParseCSV(data, profile)

	assert.Equal(t, "testbank", res.Meta.Institution)
	// Non-numeric amount drops the row
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "2026-01-10", res.Transactions[0].Date)
	assert.Equal(t, "AMAZON MARKETPLACE", res.Transactions[0].Name)
	assert.InDelta(t, -45.99, res.Transactions[0].Amount, 0.001)
	assert.InDelta(t, 3500.00, res.Transactions[1].Amount, 0.001)
}

func TestParseCSV_CreditDebitColumns(t *testing.T) {
	data := []byte(`Date,Description,Credit,Debit
2026-02-01,DEPOSIT,250.00,
2026-02-02,GROCERIES,,80.25
`)
	profile := CSVProfile{
		DateColumn:        "Date",
		DescriptionColumn: "Description",
		CreditColumn:      "Credit",
		DebitColumn:       "Debit",
	}

	res := ParseCSV(data, profile)

	require.Len(t, res.Transactions, 2)
	assert.InDelta(t, 250.00, res.Transactions[0].Amount, 0.001)
	assert.InDelta(t, -80.25, res.Transactions[1].Amount, 0.001)
}

func TestParseCSV_InvertAmount(t *testing.T) {
	data := []byte(`Date,Description,Amount
2026-03-01,SUBSCRIPTION,9.99
`)
	profile := CSVProfile{
		DateColumn:        "Date",
		AmountColumn:      "Amount",
		DescriptionColumn: "Description",
		InvertAmount:      true,
	}

	res := ParseCSV(data, profile)
	require.Len(t, res.Transactions, 1)
	assert.InDelta(t, -9.99, res.Transactions[0].Amount, 0.001)
}

func TestParseCSV_CaseInsensitiveHeaders(t *testing.T) {
	data := []byte(`DATE,description,AMOUNT
2026-01-05,Lunch,-12.00
`)
	profile := CSVProfile{DateColumn: "Date", AmountColumn: "Amount", DescriptionColumn: "Description"}

	res := ParseCSV(data, profile)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "Lunch", res.Transactions[0].Name)
}

func TestParseCSV_BOMHeader(t *testing.T) {
	// Excel exports prefix the first header cell with a UTF-8 byte order mark
	data := []byte("\uFEFFDate,Description,Amount\n2026-01-05,Lunch,-12.00\n")
	profile := CSVProfile{DateColumn: "Date", AmountColumn: "Amount", DescriptionColumn: "Description"}

	res := ParseCSV(data, profile)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "2026-01-05", res.Transactions[0].Date)
	assert.InDelta(t, -12.00, res.Transactions[0].Amount, 0.001)
}

func TestParseCSV_Empty(t *testing.T) {
	res := ParseCSV(nil, CSVProfile{DateColumn: "Date", AmountColumn: "Amount"})
	assert.Empty(t, res.Transactions)
	assert.Equal(t, "unknown", res.Meta.Institution)
}
