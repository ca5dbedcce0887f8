package store

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	priceCharPattern = regexp.MustCompile(`^[0-9.,\- ]+$`)
)

// CleanPrice strips markup from an upstream price string. Some stores wrap
// prices in HTML spans; the mirror keeps the bare decimal text.
func CleanPrice(raw string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(raw, ""))
}

// validPriceValue filters metadata values considered as price candidates:
// nonempty, not the literal "0", digits/punctuation only.
func validPriceValue(val string) bool {
	if val == "" || val == "0" {
		return false
	}
	return priceCharPattern.MatchString(val)
}

// WholesaleFromMeta runs the two-pass wholesale scan over upstream metadata.
// Pass 1 takes keys containing both "b2b" and "price". Pass 2 takes keys
// containing "wholesalex" and "price", skipping "regular" variants, so a
// retail regular_price never shadows the wholesale figure. Returns "" when
// no candidate survives.
func WholesaleFromMeta(meta []MetaEntry) string {
	for _, entry := range meta {
		key := strings.ToLower(entry.Key)
		val := metaValueString(entry.Value)
		if !validPriceValue(val) {
			continue
		}
		if strings.Contains(key, "b2b") && strings.Contains(key, "price") {
			return CleanPrice(val)
		}
	}
	for _, entry := range meta {
		key := strings.ToLower(entry.Key)
		val := metaValueString(entry.Value)
		if !validPriceValue(val) {
			continue
		}
		if strings.Contains(key, "regular") {
			continue
		}
		if strings.Contains(key, "wholesalex") && strings.Contains(key, "price") {
			return CleanPrice(val)
		}
	}
	return ""
}

// EffectivePrice resolves an entity's price: wholesale override from
// metadata when present, otherwise the cleaned raw price.
func EffectivePrice(meta []MetaEntry, raw string) string {
	if wholesale := WholesaleFromMeta(meta); wholesale != "" {
		return wholesale
	}
	return CleanPrice(raw)
}

func metaValueString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without ".000000".
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
