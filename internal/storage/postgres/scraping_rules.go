package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetinfo/portal/internal/portal"
)

// ScrapingRuleRepo stores scraping rules together with their tag links.
type ScrapingRuleRepo struct {
	rules *Repo[portal.ScrapingRule]
	pool  querier
}

// List returns rules with their tag ids.
func (r *ScrapingRuleRepo) List(ctx context.Context, opts portal.ListOptions) ([]portal.ScrapingRule, int, error) {
	rules, total, err := r.rules.List(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	if len(rules) == 0 {
		return rules, total, nil
	}
	ids := make([]int64, len(rules))
	for i := range rules {
		ids[i] = rules[i].ID
	}
	links, err := r.tagLinks(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range rules {
		if tags, ok := links[rules[i].ID]; ok {
			rules[i].TagIDs = tags
		}
	}
	return rules, total, nil
}

// Get loads one rule with its tag ids.
func (r *ScrapingRuleRepo) Get(ctx context.Context, id int64) (portal.ScrapingRule, error) {
	rule, err := r.rules.Get(ctx, id)
	if err != nil {
		return portal.ScrapingRule{}, err
	}
	links, err := r.tagLinks(ctx, r.pool, []int64{id})
	if err != nil {
		return portal.ScrapingRule{}, err
	}
	if tags, ok := links[id]; ok {
		rule.TagIDs = tags
	}
	return rule, nil
}

// Create inserts the rule and its tag links in one transaction.
func (r *ScrapingRuleRepo) Create(ctx context.Context, rule portal.ScrapingRule) (portal.ScrapingRule, error) {
	var out portal.ScrapingRule
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		created, err := r.rules.createIn(ctx, tx, rule)
		if err != nil {
			return err
		}
		if err := relinkTags(ctx, tx, created.ID, rule.TagIDs); err != nil {
			return err
		}
		created.TagIDs = nonNilIDs(rule.TagIDs)
		out = created
		return nil
	})
	return out, err
}

// Update rewrites the rule and replaces its tag links in one transaction.
func (r *ScrapingRuleRepo) Update(ctx context.Context, id int64, rule portal.ScrapingRule) (portal.ScrapingRule, error) {
	var out portal.ScrapingRule
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		updated, err := r.rules.updateIn(ctx, tx, id, rule)
		if err != nil {
			return err
		}
		if err := relinkTags(ctx, tx, id, rule.TagIDs); err != nil {
			return err
		}
		updated.TagIDs = nonNilIDs(rule.TagIDs)
		out = updated
		return nil
	})
	return out, err
}

// Delete removes the rule; tag links cascade.
func (r *ScrapingRuleRepo) Delete(ctx context.Context, id int64) error {
	return r.rules.Delete(ctx, id)
}

func relinkTags(ctx context.Context, tx dbtx, ruleID int64, tagIDs []int64) error {
	if _, err := tx.Exec(ctx, "DELETE FROM scraping_rule_tags WHERE rule_id = $1", ruleID); err != nil {
		return fmt.Errorf("unlink tags: %w", mapError(err))
	}
	if len(tagIDs) == 0 {
		return nil
	}
	const query = `INSERT INTO scraping_rule_tags (rule_id, tag_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, query, ruleID, tagIDs); err != nil {
		return fmt.Errorf("link tags: %w", mapError(err))
	}
	return nil
}

func (r *ScrapingRuleRepo) tagLinks(ctx context.Context, db dbtx, ruleIDs []int64) (map[int64][]int64, error) {
	rows, err := db.Query(ctx,
		"SELECT rule_id, tag_id FROM scraping_rule_tags WHERE rule_id = ANY($1) ORDER BY rule_id, tag_id", ruleIDs)
	if err != nil {
		return nil, fmt.Errorf("load rule tags: %w", mapError(err))
	}
	defer rows.Close()
	out := make(map[int64][]int64, len(ruleIDs))
	for rows.Next() {
		var ruleID, tagID int64
		if err := rows.Scan(&ruleID, &tagID); err != nil {
			return nil, fmt.Errorf("scan rule tag: %w", err)
		}
		out[ruleID] = append(out[ruleID], tagID)
	}
	return out, rows.Err()
}
