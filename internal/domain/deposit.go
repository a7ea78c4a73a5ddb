package domain

// RawTransactionRow is one transaction block scraped from a bank's statement
// view. Rows are produced fresh on every poll and never persisted.
type RawTransactionRow struct {
	Date   string // DD/MM/YYYY
	Time   string // HH:MM
	Code   string
	Note   string
	Amount string
}

// Signature is the comparison key of a transaction: "{date} {time}|{note}|{amount}".
type Signature string

func (s Signature) String() string { return string(s) }
