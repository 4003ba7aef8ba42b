package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetinfo/portal/internal/portal"
)

// Store bundles every repository over one pool.
type Store struct {
	db querier

	Partners       *Repo[portal.BusinessPartner]
	Regions        *Repo[portal.Region]
	Users          *UserRepo
	Categories     *Repo[portal.Category]
	Tags           *TagRepo
	WidgetTypes    *Repo[portal.WidgetType]
	WidgetAccess   *WidgetAccessRepo
	Advertisements *Repo[portal.Advertisement]
	PartnerActions *Repo[portal.PartnerAction]
	ScrapingRules  *ScrapingRuleRepo
	ScrapedContent *ScrapedContentRepo
	Traffic        *Repo[portal.TrafficIncident]
	PromptRules    *Repo[portal.AIPromptRule]
	Generated      *Repo[portal.GeneratedContent]
	Subscriptions  *SubscriptionRepo
	Jobs           *JobStore
	Cache          *CacheStore
	Feed           *FeedStore
	Audit          *AuditStore
}

// NewWithPool constructs a store from an existing pool (pgxmock in tests).
func NewWithPool(pool querier) *Store {
	return &Store{
		db:             pool,
		Partners:       newRepo(pool, partnersTable),
		Regions:        newRepo(pool, regionsTable),
		Users:          &UserRepo{Repo: newRepo(pool, usersTable)},
		Categories:     newRepo(pool, categoriesTable),
		Tags:           &TagRepo{Repo: newRepo(pool, tagsTable), pool: pool},
		WidgetTypes:    newRepo(pool, widgetTypesTable),
		WidgetAccess:   &WidgetAccessRepo{Repo: newRepo(pool, widgetAccessTable)},
		Advertisements: newRepo(pool, advertisementsTable),
		PartnerActions: newRepo(pool, partnerActionsTable),
		ScrapingRules:  &ScrapingRuleRepo{rules: newRepo(pool, scrapingRulesTable), pool: pool},
		ScrapedContent: &ScrapedContentRepo{Repo: newRepo(pool, scrapedContentTable)},
		Traffic:        newRepo(pool, trafficTable),
		PromptRules:    newRepo(pool, promptRulesTable),
		Generated:      newRepo(pool, generatedTable),
		Subscriptions:  &SubscriptionRepo{Repo: newRepo(pool, subscriptionsTable)},
		Jobs:           &JobStore{db: pool},
		Cache:          &CacheStore{db: pool},
		Feed:           &FeedStore{db: pool},
		Audit:          &AuditStore{db: pool},
	}
}

// ListRoles returns the seeded roles.
func (s *Store) ListRoles(ctx context.Context) ([]portal.Role, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name FROM roles ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", mapError(err))
	}
	defer rows.Close()
	out := make([]portal.Role, 0, 4)
	for rows.Next() {
		var r portal.Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UserRepo adds email lookup.
type UserRepo struct {
	*Repo[portal.User]
}

// GetByEmail loads a user by case-insensitive email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (portal.User, error) {
	query := "SELECT " + r.t.selectList() + " FROM users WHERE lower(email) = lower($1)"
	u, err := r.t.scan(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		return portal.User{}, fmt.Errorf("get user by email: %w", mapError(err))
	}
	return u, nil
}

// TagRepo adds CSV import.
type TagRepo struct {
	*Repo[portal.Tag]
	pool querier
}

// Import upserts tags by slug in a single transaction and returns the number
// of rows written.
func (r *TagRepo) Import(ctx context.Context, tags []portal.Tag) (int, error) {
	const query = `
INSERT INTO tags (name, slug, category_id) VALUES ($1, $2, $3)
ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, category_id = EXCLUDED.category_id, updated_at = now()`
	written := 0
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, t := range tags {
			tag, err := tx.Exec(ctx, query, t.Name, t.Slug, t.CategoryID)
			if err != nil {
				return fmt.Errorf("import tag %q: %w", t.Slug, mapError(err))
			}
			written += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// WidgetAccessRepo adds the partner widget lookup.
type WidgetAccessRepo struct {
	*Repo[portal.WidgetAccess]
}

// EnabledWidgets lists widget types granted and enabled for partnerID.
func (r *WidgetAccessRepo) EnabledWidgets(ctx context.Context, partnerID int64) ([]portal.WidgetType, error) {
	const query = `
SELECT wt.id, wt.key, wt.name, wt.description, wt.config, wt.created_at, wt.updated_at
FROM widget_types wt
JOIN widget_access wa ON wa.widget_type_id = wt.id
WHERE wa.business_partner_id = $1 AND wa.enabled
ORDER BY wt.name`
	rows, err := r.db.Query(ctx, query, partnerID)
	if err != nil {
		return nil, fmt.Errorf("list enabled widgets: %w", mapError(err))
	}
	defer rows.Close()
	out := make([]portal.WidgetType, 0)
	for rows.Next() {
		w, err := widgetTypesTable.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan widget type: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ScrapedContentRepo adds idempotent inserts.
type ScrapedContentRepo struct {
	*Repo[portal.ScrapedContent]
}

// Insert stores c unless an item with the same URL hash exists.
func (r *ScrapedContentRepo) Insert(ctx context.Context, c portal.ScrapedContent) (bool, error) {
	const query = `
INSERT INTO scraped_content (rule_id, url, url_hash, title, body, body_markdown, image_url, published_at, region_id, category_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (url_hash) DO NOTHING`
	tag, err := r.db.Exec(ctx, query, scrapedContentTable.values(&c)...)
	if err != nil {
		return false, fmt.Errorf("insert scraped content: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Latest returns the newest items for a region.
func (r *ScrapedContentRepo) Latest(ctx context.Context, regionID int64, limit int) ([]portal.ScrapedContent, error) {
	items, _, err := r.List(ctx, portal.ListOptions{RegionID: &regionID, Limit: limit})
	return items, err
}

// SubscriptionRepo adds run bookkeeping.
type SubscriptionRepo struct {
	*Repo[portal.ContentSubscription]
}

// MarkRun records the time of the last successful pipeline run.
func (r *SubscriptionRepo) MarkRun(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, "UPDATE content_subscriptions SET last_run_at = $1 WHERE id = $2", at, id)
	if err != nil {
		return fmt.Errorf("mark subscription run: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark subscription %d: %w", id, portal.ErrNotFound)
	}
	return nil
}
