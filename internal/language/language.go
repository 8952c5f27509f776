// Package language decides whether text or task records are Dutch, so that
// status and render strings can be shown in the matching language.
package language

import "strings"

// Language is the display language for user-facing strings.
type Language int

const (
	Default Language = iota
	Dutch
)

func (l Language) String() string {
	if l == Dutch {
		return "dutch"
	}
	return "default"
}

// dutchRatio is the share of function words above which text counts as Dutch.
const dutchRatio = 0.15

var dutchWords = toSet(
	"ik", "je", "het", "de", "en", "een", "dat", "is", "in", "te",
	"van", "niet", "zijn", "op", "voor", "met", "als", "maar", "om", "aan",
	"er", "nog", "ook", "moet", "kan", "zal", "wil", "gaan", "maken", "doen",
	"hebben", "worden", "morgen", "vandaag", "gisteren", "volgende", "week", "maand",
)

var dutchCriticality = toSet("laag", "normaal", "hoog", "zeer hoog")

var dutchCategories = []string{"werk", "familie", "huishouden", "persoonlijk", "overig"}

// Labeled is anything carrying a criticality label and a category.
type Labeled interface {
	CriticalityText() string
	CategoryText() string
}

// ClassifyText returns Dutch when more than 15% of the whitespace-separated
// tokens are Dutch function words.
func ClassifyText(text string) Language {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return Default
	}
	matched := 0
	for _, tok := range tokens {
		if _, ok := dutchWords[tok]; ok {
			matched++
		}
	}
	if float64(matched)/float64(len(tokens)) > dutchRatio {
		return Dutch
	}
	return Default
}

// ClassifyRecord returns Dutch when the criticality label is Dutch or the
// category mentions a Dutch category word.
func ClassifyRecord(r Labeled) Language {
	if _, ok := dutchCriticality[strings.ToLower(strings.TrimSpace(r.CriticalityText()))]; ok {
		return Dutch
	}
	category := strings.ToLower(r.CategoryText())
	for _, word := range dutchCategories {
		if strings.Contains(category, word) {
			return Dutch
		}
	}
	return Default
}

// MajorityLanguage returns Dutch when strictly more than half of the records
// classify as Dutch. An empty slice is Default.
func MajorityLanguage[T Labeled](records []T) Language {
	if len(records) == 0 {
		return Default
	}
	dutch := 0
	for _, r := range records {
		if ClassifyRecord(r) == Dutch {
			dutch++
		}
	}
	if dutch*2 > len(records) {
		return Dutch
	}
	return Default
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
