// Package eric reports deposits and payouts to the ERIC integration API.
// Every request carries a hash header the API recomputes from the same
// fields, in the same order, and a shared secret.
package eric

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/boddenberg/bankbot-go/internal/domain"
)

// Field is one key/value pair of the hashed string.
type Field struct {
	Key   string
	Value string
}

// Canonical joins fields as k1=v1&k2=v2&...&kn=vn and appends secret with no
// separator.
func Canonical(fields []Field, secret string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	b.WriteString(secret)
	return b.String()
}

// Sign returns the lowercase hex MD5 of the canonical string.
func Sign(fields []Field, secret string) string {
	sum := md5.Sum([]byte(Canonical(fields, secret)))
	return hex.EncodeToString(sum[:])
}

// DepositFields lists a deposit callback in the API's hash order.
func DepositFields(cb domain.DepositCallback) []Field {
	return []Field{
		{"bankCode", cb.BankCode},
		{"deviceId", cb.DeviceID},
		{"merchantCode", cb.MerchantCode},
		{"rawMessage", cb.RawMessage},
		{"transactionTime", strconv.FormatInt(cb.TransactionTime, 10)},
	}
}

// PayoutFields lists a payout callback in the API's hash order.
func PayoutFields(cb domain.PayoutCallback) []Field {
	return []Field{
		{"transactionId", cb.TransactionID},
		{"bankCode", cb.BankCode},
		{"deviceId", cb.DeviceID},
		{"merchantCode", cb.MerchantCode},
	}
}
