package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetinfo/portal/internal/portal"
)

// FeedStore reads the merged scraped + generated feed.
type FeedStore struct {
	db dbtx
}

const feedUnion = `
SELECT id, 'scraped' AS type, title, body_markdown AS body, url, image_url, region_id, category_id, created_at
FROM scraped_content
UNION ALL
SELECT g.id, 'generated' AS type, g.title, g.content AS body, '' AS url, '' AS image_url, g.region_id,
	r.category_id, g.created_at
FROM ai_generated_content g
JOIN ai_prompt_rules r ON r.id = g.rule_id`

// Feed returns one page of the feed, newest first, and the total size.
func (s *FeedStore) Feed(ctx context.Context, q portal.FeedQuery) ([]portal.FeedItem, int, error) {
	var (
		clauses []string
		args    []any
	)
	if q.RegionID != nil {
		args = append(args, *q.RegionID)
		clauses = append(clauses, "region_id = $"+strconv.Itoa(len(args)))
	}
	if q.CategoryID != nil {
		args = append(args, *q.CategoryID)
		clauses = append(clauses, "category_id = $"+strconv.Itoa(len(args)))
	}
	if q.Type != "" {
		args = append(args, q.Type)
		clauses = append(clauses, "type = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	base := "SELECT * FROM (" + feedUnion + ") feed" + where

	var total int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM ("+base+") counted", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count feed: %w", mapError(err))
	}

	args = append(args, q.Limit, q.Offset)
	query := base + " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)-1) +
		" OFFSET $" + strconv.Itoa(len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query feed: %w", mapError(err))
	}
	defer rows.Close()

	items := make([]portal.FeedItem, 0, q.Limit)
	for rows.Next() {
		var it portal.FeedItem
		if err := rows.Scan(&it.ID, &it.Type, &it.Title, &it.Body, &it.URL, &it.ImageURL, &it.RegionID,
			&it.CategoryID, &it.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan feed item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate feed: %w", mapError(err))
	}
	return items, total, nil
}
