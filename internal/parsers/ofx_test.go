package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SGML-style OFX: value tags carry no closing tag
const sgmlOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102

<OFX>
<BANKMSGSRSV1>
<STMTTRNRS>
<STMTRS>
<BANKACCTFROM>
<ACCTID>123456789
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20260110120000
<TRNAMT>-45.99
<FITID>TXN001
<NAME>AMAZON MARKETPLACE
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20260115
<TRNAMT>3500.00
<FITID>TXN002
<NAME>PAYROLL DEPOSIT
<MEMO>ACME CORP
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20260116
<TRNAMT>-12.50
<FITID>TXN003
<NAME>COFFEE SHOP
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2441.51
<DTASOF>20260116
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func TestParseOFX_SGML(t *testing.T) {
	res := ParseOFX([]byte(sgmlOFX))

	assert.Equal(t, "123456789", res.Meta.AccountID)
	assert.Equal(t, "CHECKING", res.Meta.AccountType)
	require.NotNil(t, res.Meta.Balance)
	assert.InDelta(t, 2441.51, *res.Meta.Balance, 0.001)
	assert.Equal(t, "2026-01-16", res.Meta.BalanceDate)

	require.Len(t, res.Transactions, 3)

	assert.Equal(t, "TXN001", res.Transactions[0].ID)
	assert.Equal(t, "2026-01-10", res.Transactions[0].Date)
	assert.Equal(t, "AMAZON MARKETPLACE", res.Transactions[0].Name)
	assert.InDelta(t, -45.99, res.Transactions[0].Amount, 0.001)
	assert.Equal(t, "DEBIT", res.Transactions[0].Type)

	assert.InDelta(t, 3500.00, res.Transactions[1].Amount, 0.001)
	assert.Equal(t, "ACME CORP", res.Transactions[1].Memo)

	assert.Equal(t, "COFFEE SHOP", res.Transactions[2].Name)
}

func TestParseOFX_XMLStyle(t *testing.T) {
	xml := `<OFX><SIGNONMSGSRSV1><FI><ORG>First National</ORG></FI></SIGNONMSGSRSV1>
<BANKACCTFROM><ACCTID>987654</ACCTID><ACCTTYPE>SAVINGS</ACCTTYPE></BANKACCTFROM>
<STMTTRN><TRNTYPE>DEBIT</TRNTYPE><DTPOSTED>20260201</DTPOSTED><TRNAMT>-100.00</TRNAMT><FITID>A1</FITID><NAME>RENT</NAME></STMTTRN>`

	res := ParseOFX([]byte(xml))

	assert.Equal(t, "First National", res.Meta.Institution)
	assert.Equal(t, "987654", res.Meta.AccountID)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "RENT", res.Transactions[0].Name)
	assert.InDelta(t, -100.00, res.Transactions[0].Amount, 0.001)
}

func TestParseOFX_MissingFields(t *testing.T) {
	// No TRNAMT drops the transaction; missing NAME falls back to Unknown
	content := `<STMTTRN>
<DTPOSTED>20260110
<FITID>NOAMT
</STMTTRN>
<STMTTRN>
<DTPOSTED>20260111
<TRNAMT>-5.00
<FITID>NONAME
</STMTTRN>`

	res := ParseOFX([]byte(content))
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "NONAME", res.Transactions[0].ID)
	assert.Equal(t, "Unknown", res.Transactions[0].Name)
}

func TestParseOFX_Empty(t *testing.T) {
	res := ParseOFX(nil)
	assert.Empty(t, res.Transactions)
	assert.Equal(t, "unknown", res.Meta.Institution)
	assert.Nil(t, res.Meta.Balance)
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"20260110", "2026-01-10", true},
		{"20260110120000.000[-5:EST]", "2026-01-10", true},
		{"2026-01-10", "2026-01-10", true},
		{"01/10/2026", "2026-01-10", true},
		{"1/2/2026", "2026-01-02", true},
		{"Jan 2, 2026", "2026-01-02", true},
		{"not a date", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeDate(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect(t *testing.T) {
	assert.Equal(t, KindOFX, Detect("statement.ofx", ""))
	assert.Equal(t, KindOFX, Detect("Statement.QFX", "positions"))
	assert.Equal(t, KindBrokerPositions, Detect("export.csv", "positions"))
	assert.Equal(t, KindBrokerActivity, Detect("export.csv", "activity"))
	assert.Equal(t, KindCSV, Detect("export.csv", ""))
	assert.Equal(t, KindCSV, Detect("statement.txt", ""))
}
