package model

import "time"

// CategoryType partitions categories by cash-flow direction.
type CategoryType string

const (
	// CategoryTypeIncome represents categories for money coming in.
	CategoryTypeIncome CategoryType = "income"
	// CategoryTypeSpend represents categories for money going out.
	CategoryTypeSpend CategoryType = "spend"
	// CategoryTypeTransfer represents internal movement between accounts.
	CategoryTypeTransfer CategoryType = "transfer"
)

// UncategorizedName is the name of both the fallback category and its
// subcategory. The pair must exist in storage; reconciliation refuses to run
// without it.
const UncategorizedName = "Uncategorized"

// Category is a top-level transaction category.
type Category struct {
	CreatedAt time.Time
	Name      string
	Type      CategoryType
	ID        int64
}

// Subcategory is a second-level category beneath exactly one Category.
// Subcategory names are unique within their category, not globally.
type Subcategory struct {
	CreatedAt  time.Time
	Name       string
	ID         int64
	CategoryID int64
}
