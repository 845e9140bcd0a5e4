package enums

import "fmt"

// TransactionType distinguishes ledger credits from debits. The amount column
// is always positive; the type implies the sign.
type TransactionType string

const (
	TransactionTypeAccrual    TransactionType = "accrual"
	TransactionTypeRedemption TransactionType = "redemption"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeAccrual,
	TransactionTypeRedemption,
}

// IsValid reports whether the value matches the canonical transaction type enum.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
