package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/falconrep/catalog-mirror/internal/search"
)

const browseLimit = 100

// SearchProducts runs the two-pass search protocol: a strict conjunctive
// FTS match first, then a relaxed disjunctive pass when the strict match
// over a multi-word query comes back empty. The category filter stays
// strict in both passes.
func (s *Store) SearchProducts(ctx context.Context, userQuery string, categoryID int64) ([]Product, error) {
	expr := search.QueryExpression(userQuery)
	// Some query builders join groups with an explicit AND; conjunction is
	// implicit in the match grammar.
	expr = strings.ReplaceAll(expr, " AND ", " ")

	match := buildMatch(expr, categoryID)
	if match == "" {
		var rows []productRow
		err := s.db.WithContext(ctx).
			Raw("SELECT " + productColumns + " FROM products ORDER BY name COLLATE NOCASE LIMIT " + strconv.Itoa(browseLimit)).
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		return rowsToProducts(rows), nil
	}

	products, err := s.matchProducts(ctx, match)
	if err != nil {
		return nil, err
	}
	if len(products) > 0 {
		return products, nil
	}

	groups := search.QueryGroups(expr)
	if len(groups) < 2 {
		return products, nil
	}

	relaxed := strings.Join(groups, " OR ")
	if categoryID > 0 {
		relaxed = search.FilterToken(categoryID) + " (" + relaxed + ")"
	}
	return s.matchProducts(ctx, relaxed)
}

func (s *Store) matchProducts(ctx context.Context, match string) ([]Product, error) {
	var rows []productRow
	err := s.db.WithContext(ctx).
		Raw("SELECT "+productColumns+" FROM products WHERE products MATCH ? ORDER BY name COLLATE NOCASE", match).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToProducts(rows), nil
}

func buildMatch(expr string, categoryID int64) string {
	var sb strings.Builder
	if categoryID > 0 {
		sb.WriteString(search.FilterToken(categoryID))
	}
	if expr != "" {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(expr)
	}
	return sb.String()
}
