// Package intent classifies user queries into the closed set of intents
// that routes the orchestration graph.
package intent

// Intent is a closed-set classification of a user query.
type Intent string

const (
	// FAQ covers policy, shipping, returns, and general store questions.
	FAQ Intent = "FAQ"
	// ProductSearch covers product features, specs, and comparisons.
	ProductSearch Intent = "PRODUCT_SEARCH"
	// OutOfScope covers queries unrelated to shopping.
	OutOfScope Intent = "OUT_OF_SCOPE"
	// CartAction covers add-to-cart, view-cart, and clear-cart requests.
	CartAction Intent = "CART_ACTION"
)

// All lists every valid intent label.
var All = []Intent{FAQ, ProductSearch, OutOfScope, CartAction}

// Parse converts a raw label into an Intent.
// Returns false for anything outside the closed set.
func Parse(label string) (Intent, bool) {
	switch Intent(label) {
	case FAQ, ProductSearch, OutOfScope, CartAction:
		return Intent(label), true
	}
	return "", false
}

// NeedsRetrieval reports whether the intent's route includes context
// retrieval. Out-of-scope and pure cart actions skip the index entirely.
func (i Intent) NeedsRetrieval() bool {
	switch i {
	case OutOfScope, CartAction:
		return false
	}
	return true
}
