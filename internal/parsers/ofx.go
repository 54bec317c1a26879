package parsers

import (
	"strconv"
	"strings"
)

// ParseOFX parses OFX/QFX content, accepting both XML-well-formed OFX and
// SGML-style OFX where value tags carry no closing tag. Extraction is
// tag-name based rather than tree based: each `<TAG>` is read up to the next
// newline or the next tag opener, which is the only interpretation that works
// across both dialects.
//
// Transactions missing TRNAMT are dropped; a missing NAME falls back to PAYEE
// and then to "Unknown". Empty input yields zero transactions and an
// AccountMeta with empty ids and institution "unknown"; ParseOFX never fails.
func ParseOFX(data []byte) Result {
	content := string(data)

	meta := AccountMeta{
		AccountID:   extractTag(content, "ACCTID"),
		AccountType: extractTag(content, "ACCTTYPE"),
		Institution: "unknown",
	}
	if org := extractTag(content, "ORG"); org != "" {
		meta.Institution = org
	} else if fid := extractTag(content, "FID"); fid != "" {
		meta.Institution = fid
	}
	if bal := extractTag(content, "BALAMT"); bal != "" {
		if v, err := strconv.ParseFloat(bal, 64); err == nil {
			meta.Balance = &v
		}
	}
	if asOf := extractTag(content, "DTASOF"); asOf != "" {
		if d, ok := NormalizeDate(asOf); ok {
			meta.BalanceDate = d
		}
	}

	var txns []RawTransaction
	for _, block := range transactionBlocks(content) {
		amtRaw := extractTag(block, "TRNAMT")
		if amtRaw == "" {
			continue
		}
		amount, err := strconv.ParseFloat(amtRaw, 64)
		if err != nil {
			continue
		}

		name := extractTag(block, "NAME")
		if name == "" {
			name = extractTag(block, "PAYEE")
		}
		if name == "" {
			name = "Unknown"
		}

		date := ""
		if d, ok := NormalizeDate(extractTag(block, "DTPOSTED")); ok {
			date = d
		}
		if date == "" {
			continue
		}

		txns = append(txns, RawTransaction{
			ID:     extractTag(block, "FITID"),
			Date:   date,
			Name:   name,
			Amount: amount,
			Type:   extractTag(block, "TRNTYPE"),
			Memo:   extractTag(block, "MEMO"),
		})
	}

	return Result{Meta: meta, Transactions: txns}
}

// transactionBlocks splits the content into STMTTRN regions. A region runs
// from one <STMTTRN> opener to its </STMTTRN> closer, or to the next opener
// when the file is SGML style and closers are absent.
func transactionBlocks(content string) []string {
	upper := strings.ToUpper(content)
	var blocks []string

	pos := 0
	for {
		start := strings.Index(upper[pos:], "<STMTTRN>")
		if start == -1 {
			break
		}
		start += pos + len("<STMTTRN>")

		end := len(content)
		if close := strings.Index(upper[start:], "</STMTTRN>"); close != -1 {
			end = start + close
		}
		if next := strings.Index(upper[start:], "<STMTTRN>"); next != -1 && start+next < end {
			end = start + next
		}

		blocks = append(blocks, content[start:end])
		pos = end
	}
	return blocks
}

// extractTag returns the value following the first `<TAG>` occurrence,
// terminated by a newline, carriage return, or the next tag opener.
// Matching is case-insensitive; the value is trimmed.
func extractTag(content, tag string) string {
	marker := "<" + strings.ToUpper(tag) + ">"
	idx := strings.Index(strings.ToUpper(content), marker)
	if idx == -1 {
		return ""
	}
	rest := content[idx+len(marker):]

	end := len(rest)
	for i, r := range rest {
		if r == '\n' || r == '\r' || r == '<' {
			end = i
			break
		}
	}
	return strings.TrimSpace(rest[:end])
}
