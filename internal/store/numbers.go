package store

import "fmt"

// Receipt-facing sequential identifiers. Both implementations draw the
// counter inside the same transaction that persists the record, so numbers
// are unique under concurrent writes.
const (
	SaleCounter   = "sale_number"
	ReturnCounter = "return_number"
)

func FormatSaleNumber(n int64) string {
	return fmt.Sprintf("SALE-%06d", n)
}

func FormatReturnNumber(n int64) string {
	return fmt.Sprintf("RET-%06d", n)
}
