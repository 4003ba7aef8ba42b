package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetinfo/portal/internal/portal"
)

// CacheStore holds generated-content fingerprints with explicit expiry.
type CacheStore struct {
	db dbtx
}

// Lookup returns the unexpired entry for the fingerprint, if any.
func (s *CacheStore) Lookup(
	ctx context.Context,
	ruleID, regionID int64,
	keywordHash string,
	now time.Time,
) (portal.CacheEntry, bool, error) {
	const query = `
SELECT rule_id, region_id, keyword_hash, content_id, created_at, expires_at
FROM generated_content_cache
WHERE rule_id = $1 AND region_id = $2 AND keyword_hash = $3 AND expires_at > $4`
	var e portal.CacheEntry
	err := s.db.QueryRow(ctx, query, ruleID, regionID, keywordHash, now).
		Scan(&e.RuleID, &e.RegionID, &e.KeywordHash, &e.ContentID, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return portal.CacheEntry{}, false, nil
	}
	if err != nil {
		return portal.CacheEntry{}, false, fmt.Errorf("cache lookup: %w", mapError(err))
	}
	return e, true, nil
}

// Put upserts an entry. The later writer wins when two jobs race.
func (s *CacheStore) Put(ctx context.Context, e portal.CacheEntry) error {
	const query = `
INSERT INTO generated_content_cache (rule_id, region_id, keyword_hash, content_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (rule_id, region_id, keyword_hash)
DO UPDATE SET content_id = EXCLUDED.content_id, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`
	if _, err := s.db.Exec(ctx, query, e.RuleID, e.RegionID, e.KeywordHash, e.ContentID, e.CreatedAt, e.ExpiresAt); err != nil {
		return fmt.Errorf("cache put: %w", mapError(err))
	}
	return nil
}

// InvalidateRule drops every entry of a prompt rule.
func (s *CacheStore) InvalidateRule(ctx context.Context, ruleID int64) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM generated_content_cache WHERE rule_id = $1", ruleID); err != nil {
		return fmt.Errorf("cache invalidate rule %d: %w", ruleID, mapError(err))
	}
	return nil
}

// InvalidateRuleRegion drops the entries of one (rule, region) pair.
func (s *CacheStore) InvalidateRuleRegion(ctx context.Context, ruleID, regionID int64) error {
	_, err := s.db.Exec(ctx, "DELETE FROM generated_content_cache WHERE rule_id = $1 AND region_id = $2", ruleID, regionID)
	if err != nil {
		return fmt.Errorf("cache invalidate rule %d region %d: %w", ruleID, regionID, mapError(err))
	}
	return nil
}

// Purge removes expired entries and reports how many were deleted.
func (s *CacheStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM generated_content_cache WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}
