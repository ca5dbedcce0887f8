// Package search builds the fuzzy token stream stored alongside each product
// and translates raw user queries into FTS match expressions. Everything here
// is pure string work; no I/O.
package search

import (
	"fmt"
	"strings"
)

// Category is the minimal category shape needed to derive filter tokens.
type Category struct {
	ID   int64
	Name string
}

// FilterToken returns the strict category token for an id. The literal
// "category" prefix keeps the id glued to one alphanumeric run; a separator
// like "cat_7" would be split by the FTS tokenizer into "cat" and "7" and
// collide with product names containing digits.
func FilterToken(categoryID int64) string {
	return fmt.Sprintf("category%d", categoryID)
}

// CategoryTokens renders the per-product category token string:
// "category<id> <name>" pairs joined by spaces.
func CategoryTokens(categories []Category) string {
	var sb strings.Builder
	for _, c := range categories {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(FilterToken(c.ID))
		name := strings.TrimSpace(c.Name)
		if name != "" {
			sb.WriteByte(' ')
			sb.WriteString(name)
		}
	}
	return sb.String()
}

// IndexTokens produces the whitespace-joined deduplicated token set stored in
// the product row's search_tokens column: each name word plus its consonant
// skeleton, the SKU in raw and stripped forms, and the category tokens
// appended verbatim.
func IndexTokens(name, sku, categoryTokens string) string {
	seen := make(map[string]struct{})
	var tokens []string
	add := func(tok string) {
		if tok == "" {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	for _, word := range strings.Fields(strings.ToLower(name)) {
		clean := stripNonAlnum(word)
		if clean == "" {
			continue
		}
		add(clean)
		if skel := Skeleton(clean); len(skel) >= 2 {
			add(skel)
		}
	}

	if sku = strings.TrimSpace(sku); sku != "" {
		add(strings.ToLower(sku))
		add(stripNonAlnum(strings.ToLower(sku)))
	}

	joined := strings.Join(tokens, " ")
	if categoryTokens = strings.TrimSpace(categoryTokens); categoryTokens != "" {
		if joined == "" {
			return categoryTokens
		}
		joined += " " + categoryTokens
	}
	return joined
}

// QueryExpression converts a raw user query into the strict FTS expression:
// one parenthesized prefix group per word, "(w* OR s*)" when the consonant
// skeleton differs, joined by spaces (implicit conjunction).
func QueryExpression(userQuery string) string {
	var groups []string
	for _, word := range strings.Fields(strings.ToLower(userQuery)) {
		clean := stripNonAlnum(word)
		if clean == "" {
			continue
		}
		skel := Skeleton(clean)
		if len(skel) >= 2 && skel != clean {
			groups = append(groups, "("+clean+"* OR "+skel+"*)")
		} else {
			groups = append(groups, "("+clean+"*)")
		}
	}
	return strings.Join(groups, " ")
}

// QueryGroups splits a strict expression back into its parenthesized groups.
// Used by the relaxed-search fallback, which rejoins them with OR.
func QueryGroups(expression string) []string {
	if expression == "" {
		return nil
	}
	parts := strings.Split(expression, ") (")
	groups := make([]string, len(parts))
	for i, part := range parts {
		if !strings.HasPrefix(part, "(") {
			part = "(" + part
		}
		if !strings.HasSuffix(part, ")") {
			part += ")"
		}
		groups[i] = part
	}
	return groups
}

// Skeleton returns the consonant skeleton of a word: its first character
// followed by the remainder with vowels removed. "pencil" -> "pncl", so a
// stored skeleton still matches the typo "pencl".
func Skeleton(word string) string {
	if word == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte(word[0])
	for i := 1; i < len(word); i++ {
		switch word[i] {
		case 'a', 'e', 'i', 'o', 'u':
		default:
			sb.WriteByte(word[i])
		}
	}
	return sb.String()
}

func stripNonAlnum(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
