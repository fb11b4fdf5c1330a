package rules

import (
	"context"
	"sync"

	"github.com/ziadkadry99/menusql/internal/category"
)

// Extension is what a Provider contributes on top of the corpus files for a
// category.
type Extension struct {
	// Schema entries replace corpus tables of the same name.
	Schema map[string][]string
	// PatternTypes are extra patterns/<type>/ directories to load.
	PatternTypes []string
	// Patterns are added after the directory patterns and win on name clashes.
	Patterns map[string]string
	Rules    map[string]string
	// Replacements override configured placeholder values.
	Replacements map[string]string
}

// Provider contributes category-specific rules that are not plain corpus data.
type Provider interface {
	Extend(ctx context.Context, c category.Category) (Extension, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, c category.Category) (Extension, error)

func (f ProviderFunc) Extend(ctx context.Context, c category.Category) (Extension, error) {
	return f(ctx, c)
}

// Registry maps categories to their Provider. It is populated at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[category.Category]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[category.Category]Provider)}
}

// Register sets the provider for c, replacing any previous one.
func (r *Registry) Register(c category.Category, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[c] = p
}

// Lookup returns the provider for c.
func (r *Registry) Lookup(c category.Category) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[c]
	return p, ok
}

// DefaultRegistry returns a registry with the built-in providers for the
// ordering, menu and pricing categories.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range []category.Category{
		category.OrderHistory,
		category.OrderRatings,
		category.PopularItems,
		category.TrendAnalysis,
	} {
		r.Register(c, ProviderFunc(orderRules))
	}
	r.Register(category.MenuInquiry, ProviderFunc(menuRules))
	r.Register(category.ToggleMenuItem, ProviderFunc(menuRules))
	r.Register(category.UpdatePrice, ProviderFunc(priceRules))
	return r
}

func orderRules(_ context.Context, c category.Category) (Extension, error) {
	ext := Extension{
		PatternTypes: []string{"orders"},
		Rules: map[string]string{
			"location_scope":  "Every query must filter orders by location_id = {LOCATION_ID}.",
			"completed_only":  "Count only orders with status = 'completed' unless the question asks about other statuses.",
			"local_timezone":  "Order dates are stored in UTC; compare dates using (created_at AT TIME ZONE '{TIMEZONE}')::date.",
			"customer_naming": "Show customers as first_name || ' ' || last_name.",
		},
	}
	if c == category.OrderRatings {
		ext.Rules["rated_only"] = "Join order_ratings with an inner join; orders without a rating are excluded."
	}
	return ext, nil
}

func menuRules(_ context.Context, c category.Category) (Extension, error) {
	ext := Extension{
		PatternTypes: []string{"menu"},
		Schema: map[string][]string{
			"menu_items": {
				"id integer primary key",
				"location_id integer",
				"category_id integer references menu_categories(id)",
				"name text",
				"description text",
				"price numeric(10,2)",
				"disabled boolean -- true when the item is hidden from the menu",
			},
		},
		Rules: map[string]string{
			"location_scope": "Every query must filter menu_items by location_id = {LOCATION_ID}.",
		},
	}
	if c == category.MenuInquiry {
		ext.Rules["active_only"] = "The active menu is every menu item and category where disabled = false."
	}
	if c == category.ToggleMenuItem {
		ext.Rules["toggle_shape"] = "Use UPDATE menu_items SET disabled = ... and RETURN id, name, disabled."
	}
	return ext, nil
}

func priceRules(_ context.Context, _ category.Category) (Extension, error) {
	return Extension{
		PatternTypes: []string{"menu"},
		Patterns: map[string]string{
			"update_item_price": "UPDATE menu_items SET price = {NEW_PRICE}\n" +
				"WHERE location_id = {LOCATION_ID} AND name ILIKE '[ITEM_NAME]'\n" +
				"RETURNING id, name, price;",
		},
		Rules: map[string]string{
			"location_scope": "Price updates must filter by location_id = {LOCATION_ID}.",
			"single_item":    "Update exactly one item per statement and RETURN id, name, price.",
		},
	}, nil
}
