package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/fleetinfo/portal/internal/portal"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

var userCols = []string{"id", "business_partner_id", "email", "name", "role", "password_hash", "active",
	"created_at", "updated_at"}

func ptr[T any](v T) *T { return &v }

func TestRepoListAppliesFiltersAndPaging(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`SELECT count\(\*\) FROM users WHERE business_partner_id = \$1 AND active`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT id, business_partner_id, email, .* FROM users WHERE business_partner_id = \$1 AND active ORDER BY id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(int64(3), 5, 10).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(9), ptr(int64(3)), "a@example.com", "A", portal.RoleEditor, "hash", true, now, now))

	users, total, err := store.Users.List(context.Background(), portal.ListOptions{
		BusinessPartnerID: ptr(int64(3)),
		ActiveOnly:        true,
		Limit:             5,
		Offset:            10,
	})
	require.NoError(t, err)
	require.Equal(t, 12, total)
	require.Len(t, users, 1)
	require.Equal(t, "a@example.com", users[0].Email)
	require.Equal(t, int64(3), *users[0].BusinessPartnerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoListIgnoresUnsupportedFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM regions$`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT id, code, name, created_at, updated_at FROM regions ORDER BY id DESC$`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "code", "name", "created_at", "updated_at"}))

	regions, total, err := store.Regions.List(context.Background(), portal.ListOptions{BusinessPartnerID: ptr(int64(1))})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, regions)
	require.NotNil(t, regions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoGetNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM categories WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Categories.Get(context.Background(), 42)
	require.ErrorIs(t, err, portal.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCreateMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO tags \(name, slug, category_id\) VALUES \(\$1, \$2, \$3\) RETURNING id`).
		WithArgs("Diesel", "diesel", (*int64)(nil)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "tags_slug_key"})

	_, err := store.Tags.Create(context.Background(), portal.Tag{Name: "Diesel", Slug: "diesel"})
	require.ErrorIs(t, err, portal.ErrConflict)
	require.Contains(t, err.Error(), "tags_slug_key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCreateMapsForeignKeyViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO widget_access`).
		WithArgs(int64(1), int64(99), true).
		WillReturnError(&pgconn.PgError{Code: "23503", Detail: "Key (widget_type_id)=(99) is not present"})

	_, err := store.WidgetAccess.Create(context.Background(), portal.WidgetAccess{
		BusinessPartnerID: 1, WidgetTypeID: 99, Enabled: true,
	})
	require.ErrorIs(t, err, portal.ErrInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserUpdateKeepsPasswordWhenEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`UPDATE users SET business_partner_id = \$1, email = \$2, name = \$3, role = \$4, ` +
		`password_hash = COALESCE\(NULLIF\(\$5, ''\), password_hash\), active = \$6, updated_at = now\(\) WHERE id = \$7`).
		WithArgs(ptr(int64(2)), "b@example.com", "B", portal.RoleViewer, "", false, int64(5)).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(5), ptr(int64(2)), "b@example.com", "B", portal.RoleViewer, "old-hash", false, now, now))

	u, err := store.Users.Update(context.Background(), 5, portal.User{
		BusinessPartnerID: ptr(int64(2)), Email: "b@example.com", Name: "B", Role: portal.RoleViewer,
	})
	require.NoError(t, err)
	require.Equal(t, "old-hash", u.PasswordHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserGetByEmail(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM users WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("ops@example.com").
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(int64(1), (*int64)(nil), "ops@example.com", "Ops", portal.RoleSuperAdmin, "h", true, now, now))

	u, err := store.Users.GetByEmail(context.Background(), " ops@example.com ")
	require.NoError(t, err)
	require.Nil(t, u.BusinessPartnerID)
	require.Equal(t, portal.RoleSuperAdmin, u.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoDeleteNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM advertisements WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.Advertisements.Delete(context.Background(), 7)
	require.ErrorIs(t, err, portal.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

var ruleCols = []string{"id", "name", "source_url", "source_type", "item_selector", "title_selector",
	"body_selector", "link_selector", "date_selector", "image_selector", "url_pattern", "render_js",
	"category_id", "region_id", "active", "created_at", "updated_at"}

func TestScrapingRuleCreateRelinksTagsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now().UTC()
	rule := portal.ScrapingRule{
		Name: "News", SourceURL: "https://news.example.com", SourceType: portal.SourceHTML,
		ItemSelector: "article", TagIDs: []int64{4, 5}, Active: true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO scraping_rules`).
		WillReturnRows(pgxmock.NewRows(ruleCols).AddRow(int64(11), "News", "https://news.example.com", "html",
			"article", "", "", "", "", "", "", false, (*int64)(nil), (*int64)(nil), true, now, now))
	mock.ExpectExec(`DELETE FROM scraping_rule_tags WHERE rule_id = \$1`).
		WithArgs(int64(11)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO scraping_rule_tags`).
		WithArgs(int64(11), []int64{4, 5}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	created, err := store.ScrapingRules.Create(context.Background(), rule)
	require.NoError(t, err)
	require.Equal(t, int64(11), created.ID)
	require.Equal(t, []int64{4, 5}, created.TagIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScrapingRuleUpdateRollsBackOnTagFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE scraping_rules SET`).
		WillReturnRows(pgxmock.NewRows(ruleCols).AddRow(int64(11), "News", "https://news.example.com", "rss",
			"", "", "", "", "", "", "", false, (*int64)(nil), (*int64)(nil), true, now, now))
	mock.ExpectExec(`DELETE FROM scraping_rule_tags`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO scraping_rule_tags`).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "scraping_rule_tags_tag_id_fkey"})
	mock.ExpectRollback()

	_, err := store.ScrapingRules.Update(context.Background(), 11, portal.ScrapingRule{
		Name: "News", SourceURL: "https://news.example.com", SourceType: portal.SourceRSS, TagIDs: []int64{999},
	})
	require.ErrorIs(t, err, portal.ErrInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScrapingRuleGetLoadsTags(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM scraping_rules WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(ruleCols).AddRow(int64(3), "Feed", "https://x.example.com/rss", "rss",
			"", "", "", "", "", "", "", false, (*int64)(nil), ptr(int64(2)), true, now, now))
	mock.ExpectQuery(`SELECT rule_id, tag_id FROM scraping_rule_tags WHERE rule_id = ANY\(\$1\)`).
		WithArgs([]int64{3}).
		WillReturnRows(pgxmock.NewRows([]string{"rule_id", "tag_id"}).AddRow(int64(3), int64(8)).AddRow(int64(3), int64(9)))

	rule, err := store.ScrapingRules.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, []int64{8, 9}, rule.TagIDs)
	require.Equal(t, int64(2), *rule.RegionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTagImportUsesTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tags .* ON CONFLICT \(slug\) DO UPDATE`).
		WithArgs("Diesel", "diesel", (*int64)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO tags`).
		WithArgs("Tolls", "tolls", ptr(int64(2))).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.Tags.Import(context.Background(), []portal.Tag{
		{Name: "Diesel", Slug: "diesel"},
		{Name: "Tolls", Slug: "tolls", CategoryID: ptr(int64(2))},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScrapedContentInsertSkipsDuplicates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO scraped_content .* ON CONFLICT \(url_hash\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`INSERT INTO scraped_content`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	item := portal.ScrapedContent{RuleID: 1, URL: "https://x.example.com/a", URLHash: "h", Title: "A"}
	stored, err := store.ScrapedContent.Insert(context.Background(), item)
	require.NoError(t, err)
	require.False(t, stored)
	stored, err = store.ScrapedContent.Insert(context.Background(), item)
	require.NoError(t, err)
	require.True(t, stored)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionMarkRun(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE content_subscriptions SET last_run_at = \$1 WHERE id = \$2`).
		WithArgs(at, int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE content_subscriptions`).
		WithArgs(at, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Subscriptions.MarkRun(context.Background(), 4, at))
	require.ErrorIs(t, store.Subscriptions.MarkRun(context.Background(), 5, at), portal.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledWidgets(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM widget_types wt\s+JOIN widget_access wa`).
		WithArgs(int64(6)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "key", "name", "description", "config", "created_at", "updated_at"}).
			AddRow(int64(1), "fuel", "Fuel prices", "", json.RawMessage(`{"unit":"EUR"}`), now, now))

	widgets, err := store.WidgetAccess.EnabledWidgets(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, widgets, 1)
	require.Equal(t, "fuel", widgets[0].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	t.Parallel()

	other := errors.New("boom")
	tests := []struct {
		in   error
		want error
	}{
		{pgx.ErrNoRows, portal.ErrNotFound},
		{&pgconn.PgError{Code: "23505"}, portal.ErrConflict},
		{&pgconn.PgError{Code: "23503"}, portal.ErrInvalid},
		{&pgconn.PgError{Code: "23502"}, portal.ErrInvalid},
		{&pgconn.PgError{Code: "22P02"}, portal.ErrInvalid},
		{other, other},
	}
	for _, tt := range tests {
		require.ErrorIs(t, mapError(tt.in), tt.want)
	}
	require.NoError(t, mapError(nil))
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS roles`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectPing()

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
