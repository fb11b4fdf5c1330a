package classifier

import (
	"strings"
	"unicode"

	"github.com/ziadkadry99/menusql/internal/category"
)

type keyword struct {
	phrase string
	weight float64
}

// Phrases are matched on word boundaries against the normalized query.
var keywords = map[category.Category][]keyword{
	category.MenuInquiry: {
		{"menu", 1}, {"active", 1}, {"categories", 1}, {"category", 0.5},
		{"dish", 1}, {"dishes", 1}, {"offer", 1}, {"serve", 1}, {"options", 0.5},
		{"vegetarian", 1}, {"vegan", 1}, {"gluten free", 1}, {"how much is", 1.5},
		{"what does", 0.5}, {"cost", 0.5},
	},
	category.OrderHistory: {
		{"order", 1}, {"orders", 1}, {"ordered", 1}, {"placed", 1}, {"customer", 1},
		{"customers", 1}, {"who", 0.5}, {"details", 0.5}, {"receipt", 1},
		{"pending", 1}, {"cancelled", 1}, {"refunded", 1}, {"total", 0.5},
	},
	category.PopularItems: {
		{"popular", 2}, {"best selling", 2}, {"best seller", 2}, {"best sellers", 2},
		{"top", 1}, {"most ordered", 2}, {"worst", 1.5}, {"performing", 1.5},
		{"performance", 1.5}, {"selling", 1}, {"sold", 1}, {"sell", 0.5},
	},
	category.TrendAnalysis: {
		{"trend", 2}, {"trends", 2}, {"over time", 2}, {"compare", 1.5},
		{"compared", 1.5}, {"comparison", 1.5}, {"growth", 1.5}, {"weekly", 1},
		{"monthly", 1}, {"daily", 0.5}, {"week over week", 2}, {"month over month", 2},
		{"versus", 1}, {"vs", 1}, {"busiest", 1.5}, {"slowest", 1.5},
	},
	category.OrderRatings: {
		{"rating", 2}, {"ratings", 2}, {"rated", 2}, {"review", 2}, {"reviews", 2},
		{"feedback", 2}, {"stars", 1.5}, {"satisfaction", 1.5}, {"complaints", 1.5},
	},
	category.UpdatePrice: {
		{"change the price", 3}, {"set the price", 3}, {"update the price", 3},
		{"raise the price", 3}, {"lower the price", 3}, {"increase the price", 3},
		{"decrease the price", 3}, {"reprice", 3}, {"price to", 1.5}, {"cost to", 1},
	},
	category.ToggleMenuItem: {
		{"disable", 3}, {"enable", 3}, {"deactivate", 3}, {"activate", 3},
		{"turn off", 2.5}, {"turn on", 2.5}, {"86", 2}, {"hide", 2}, {"unhide", 2.5},
		{"take off", 2}, {"put back", 2}, {"out of stock", 2}, {"remove from the menu", 3},
	},
}

var referentialWords = map[string]bool{
	"those": true, "these": true, "that": true, "this": true, "it": true,
	"its": true, "they": true, "them": true, "their": true, "theirs": true,
	"same": true, "ones": true, "he": true, "she": true, "his": true, "her": true,
}

var referentialPhrases = []string{"what about", "how about", "and for", "the previous", "the last one"}

// normalize lowercases s and turns punctuation into spaces, padding the result
// so phrases can be matched on word boundaries with " phrase ".
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return " " + strings.Join(strings.Fields(b.String()), " ") + " "
}

// IsReferential reports whether query refers back to an earlier turn.
func IsReferential(query string) bool {
	norm := normalize(query)
	for _, w := range strings.Fields(norm) {
		if referentialWords[w] {
			return true
		}
	}
	for _, p := range referentialPhrases {
		if strings.Contains(norm, " "+p+" ") {
			return true
		}
	}
	return false
}

func scoreKeywords(query string) map[category.Category]float64 {
	norm := normalize(query)
	scores := make(map[category.Category]float64)
	for c, kws := range keywords {
		for _, kw := range kws {
			if strings.Contains(norm, " "+kw.phrase+" ") {
				scores[c] += kw.weight
			}
		}
	}
	return scores
}

// top returns the best scoring category, breaking ties by category order.
func top(scores map[category.Category]float64) (category.Category, float64) {
	var best category.Category
	var bestScore float64
	for _, c := range category.All() {
		if s := scores[c]; s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}

// fromScores turns keyword scores into a Result. Confidence grows with the
// winning score and is halved when the runner-up ties.
func fromScores(scores map[category.Category]float64) Result {
	best, bestScore := top(scores)
	if best == "" {
		return Result{QueryType: category.General, Parameters: map[string]any{}, Source: SourceKeywords}
	}
	var runnerUp float64
	for c, s := range scores {
		if c != best && s > runnerUp {
			runnerUp = s
		}
	}

	conf := 0.5 + 0.15*bestScore
	if conf > 0.95 {
		conf = 0.95
	}
	if runnerUp >= bestScore {
		conf /= 2
	}
	return Result{
		QueryType:  best,
		Confidence: conf,
		Parameters: map[string]any{"score": bestScore},
		Source:     SourceKeywords,
	}
}
