// Package category defines the closed set of business intents a manager's
// question can be classified into.
package category

import (
	"errors"
	"fmt"
	"strings"
)

// Category identifies the business intent of a query.
type Category string

const (
	OrderHistory   Category = "order_history"
	MenuInquiry    Category = "menu_inquiry"
	PopularItems   Category = "popular_items"
	TrendAnalysis  Category = "trend_analysis"
	OrderRatings   Category = "order_ratings"
	UpdatePrice    Category = "update_price"
	ToggleMenuItem Category = "toggle_menu_item"

	// General is the classifier's fallback query type. It has no rules.
	General Category = "general"
)

// ErrInvalid is returned when a string does not name a known category.
var ErrInvalid = errors.New("invalid category")

var all = []Category{
	OrderHistory,
	MenuInquiry,
	PopularItems,
	TrendAnalysis,
	OrderRatings,
	UpdatePrice,
	ToggleMenuItem,
}

var descriptions = map[Category]string{
	OrderHistory:   "Questions about past orders: who ordered, when, order totals, order details and statuses.",
	MenuInquiry:    "Questions about the menu: active items, categories, prices, options and descriptions.",
	PopularItems:   "Questions about best or worst selling items and how menu items or categories perform.",
	TrendAnalysis:  "Questions about sales or order volume over time, comparisons between periods.",
	OrderRatings:   "Questions about customer ratings and feedback on orders.",
	UpdatePrice:    "Requests to change the price of a menu item.",
	ToggleMenuItem: "Requests to enable or disable a menu item.",
}

// All returns the rules categories in a stable order.
func All() []Category {
	out := make([]Category, len(all))
	copy(out, all)
	return out
}

// Valid reports whether c is one of the rules categories.
func (c Category) Valid() bool {
	for _, k := range all {
		if c == k {
			return true
		}
	}
	return false
}

// IsWrite reports whether queries of this category modify data.
func (c Category) IsWrite() bool {
	return c == UpdatePrice || c == ToggleMenuItem
}

// Description returns a one-line description used in classifier prompts.
func (c Category) Description() string {
	return descriptions[c]
}

func (c Category) String() string { return string(c) }

// Parse converts s into a rules category. "general" is rejected.
func Parse(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return c, nil
}

// ParseQueryType is like Parse but also accepts "general".
func ParseQueryType(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == General {
		return General, nil
	}
	return Parse(s)
}
