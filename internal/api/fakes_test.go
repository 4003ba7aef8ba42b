package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/config"
	"github.com/fleetinfo/portal/internal/id/uuid"
	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/storage/memory"
)

const testSecret = "api-test-secret-0123456789abcdef"

type fakeRepo[T any] struct {
	mu    sync.Mutex
	items map[int64]T
	next  int64
	setID func(*T, int64)
	// panicOnList simulates a crashing repository.
	panicOnList bool
	err         error
}

func newFakeRepo[T any](setID func(*T, int64)) *fakeRepo[T] {
	return &fakeRepo[T]{items: map[int64]T{}, setID: setID}
}

func (r *fakeRepo[T]) List(_ context.Context, opts portal.ListOptions) ([]T, int, error) {
	if r.panicOnList {
		panic("repository exploded")
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.items))
	for id, v := range r.items {
		if opts.BusinessPartnerID != nil {
			owned, ok := any(v).(portal.PartnerOwned)
			if ok {
				owner := owned.OwnerPartnerID()
				if owner == nil || *owner != *opts.BusinessPartnerID {
					continue
				}
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	total := len(ids)
	if opts.Offset < len(ids) {
		ids = ids[opts.Offset:]
	} else {
		ids = nil
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.items[id])
	}
	return out, total, nil
}

func (r *fakeRepo[T]) Get(_ context.Context, id int64) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("id %d: %w", id, portal.ErrNotFound)
	}
	return v, nil
}

func (r *fakeRepo[T]) Create(_ context.Context, v T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.setID(&v, r.next)
	r.items[r.next] = v
	return v, nil
}

func (r *fakeRepo[T]) Update(_ context.Context, id int64, v T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		var zero T
		return zero, portal.ErrNotFound
	}
	r.setID(&v, id)
	r.items[id] = v
	return v, nil
}

func (r *fakeRepo[T]) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return portal.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *fakeRepo[T]) seed(vs ...T) {
	for _, v := range vs {
		_, _ = r.Create(context.Background(), v) //nolint:errcheck // in-memory
	}
}

type fakeUsers struct {
	*fakeRepo[portal.User]
}

func (f fakeUsers) GetByEmail(ctx context.Context, email string) (portal.User, error) {
	all, _, _ := f.List(ctx, portal.ListOptions{}) //nolint:errcheck // in-memory
	for _, u := range all {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return portal.User{}, portal.ErrNotFound
}

type fakeTags struct {
	*fakeRepo[portal.Tag]
}

func (f fakeTags) Import(ctx context.Context, tags []portal.Tag) (int, error) {
	for _, t := range tags {
		if _, err := f.Create(ctx, t); err != nil {
			return 0, err
		}
	}
	return len(tags), nil
}

type fakeWidgetAccess struct {
	*fakeRepo[portal.WidgetAccess]
	types *fakeRepo[portal.WidgetType]
}

func (f fakeWidgetAccess) EnabledWidgets(ctx context.Context, partnerID int64) ([]portal.WidgetType, error) {
	grants, _, _ := f.List(ctx, portal.ListOptions{BusinessPartnerID: &partnerID}) //nolint:errcheck // in-memory
	var out []portal.WidgetType
	for _, g := range grants {
		if !g.Enabled {
			continue
		}
		wt, err := f.types.Get(ctx, g.WidgetTypeID)
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, nil
}

type fakeFeed struct {
	mu    sync.Mutex
	items []portal.FeedItem
	calls int
}

func (f *fakeFeed) Feed(_ context.Context, q portal.FeedQuery) ([]portal.FeedItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var match []portal.FeedItem
	for _, it := range f.items {
		if q.Type != "" && it.Type != q.Type {
			continue
		}
		if q.RegionID != nil && (it.RegionID == nil || *it.RegionID != *q.RegionID) {
			continue
		}
		match = append(match, it)
	}
	total := len(match)
	if q.Offset >= len(match) {
		return []portal.FeedItem{}, total, nil
	}
	match = match[q.Offset:]
	if len(match) > q.Limit {
		match = match[:q.Limit]
	}
	return match, total, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []portal.AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, e portal.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) all() []portal.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]portal.AuditEntry(nil), f.entries...)
}

type fakeRoles struct{}

func (fakeRoles) ListRoles(context.Context) ([]portal.Role, error) {
	return []portal.Role{{ID: 1, Name: portal.RoleSuperAdmin}, {ID: 2, Name: portal.RoleAdmin}}, nil
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []jobs.Task
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, task jobs.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return nil
}

func (e *recordingEnqueuer) all() []jobs.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]jobs.Task(nil), e.tasks...)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// harness bundles a Server with the fakes behind it.
type harness struct {
	t        *testing.T
	server   *Server
	tokens   *auth.Tokens
	users    fakeUsers
	partners *fakeRepo[portal.BusinessPartner]
	regions  *fakeRepo[portal.Region]
	cats     *fakeRepo[portal.Category]
	tags     fakeTags
	ads      *fakeRepo[portal.Advertisement]
	rules    *fakeRepo[portal.AIPromptRule]
	scrapers *fakeRepo[portal.ScrapingRule]
	scraped  *fakeRepo[portal.ScrapedContent]
	subs     *fakeRepo[portal.ContentSubscription]
	wtypes   *fakeRepo[portal.WidgetType]
	waccess  fakeWidgetAccess
	jobStore *memory.JobStore
	cache    *memory.ContentCache
	blobs    *memory.BlobStore
	feed     *fakeFeed
	audit    *fakeAudit
	enqueuer *recordingEnqueuer
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		tokens:   auth.NewTokens(testSecret, time.Hour, "portal-test"),
		users:    fakeUsers{newFakeRepo(func(u *portal.User, id int64) { u.ID = id })},
		partners: newFakeRepo(func(p *portal.BusinessPartner, id int64) { p.ID = id }),
		regions:  newFakeRepo(func(r *portal.Region, id int64) { r.ID = id }),
		cats:     newFakeRepo(func(c *portal.Category, id int64) { c.ID = id }),
		tags:     fakeTags{newFakeRepo(func(c *portal.Tag, id int64) { c.ID = id })},
		ads:      newFakeRepo(func(a *portal.Advertisement, id int64) { a.ID = id }),
		rules:    newFakeRepo(func(r *portal.AIPromptRule, id int64) { r.ID = id }),
		scrapers: newFakeRepo(func(r *portal.ScrapingRule, id int64) { r.ID = id }),
		scraped:  newFakeRepo(func(c *portal.ScrapedContent, id int64) { c.ID = id }),
		subs:     newFakeRepo(func(s *portal.ContentSubscription, id int64) { s.ID = id }),
		wtypes:   newFakeRepo(func(w *portal.WidgetType, id int64) { w.ID = id }),
		jobStore: memory.NewJobStore(),
		cache:    memory.NewContentCache(),
		blobs:    memory.NewBlobStore(),
		feed:     &fakeFeed{},
		audit:    &fakeAudit{},
		enqueuer: &recordingEnqueuer{},
	}
	h.waccess = fakeWidgetAccess{
		fakeRepo: newFakeRepo(func(w *portal.WidgetAccess, id int64) { w.ID = id }),
		types:    h.wtypes,
	}
	clock := fixedClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}

	cfg := config.Config{}
	cfg.Feed.CacheTTL = time.Minute
	cfg.Feed.DefaultPageSize = 2
	cfg.Feed.MaxPageSize = 50
	cfg.Server.MaxUploadBytes = 1 << 20

	deps := Deps{
		Stores: Stores{
			Partners:       h.partners,
			Regions:        h.regions,
			Roles:          fakeRoles{},
			Users:          h.users,
			Categories:     h.cats,
			Tags:           h.tags,
			WidgetTypes:    h.wtypes,
			WidgetAccess:   h.waccess,
			Advertisements: h.ads,
			PartnerActions: newFakeRepo(func(a *portal.PartnerAction, id int64) { a.ID = id }),
			ScrapingRules:  h.scrapers,
			ScrapedContent: h.scraped,
			Traffic:        newFakeRepo(func(c *portal.TrafficIncident, id int64) { c.ID = id }),
			PromptRules:    h.rules,
			Generated:      newFakeRepo(func(c *portal.GeneratedContent, id int64) { c.ID = id }),
			Subscriptions:  h.subs,
			Jobs:           h.jobStore,
			Cache:          h.cache,
			Feed:           h.feed,
			Audit:          h.audit,
		},
		Tokens: h.tokens,
		Jobs:   jobs.NewService(h.jobStore, h.enqueuer, uuid.New(), clock, zap.NewNop()),
		Blobs:  h.blobs,
		Clock:  clock,
		Config: cfg,
		Logger: zap.NewNop(),
	}
	for _, m := range mutate {
		m(&deps)
	}
	h.server = NewServer(deps)
	return h
}

func ptr[T any](v T) *T { return &v }

// token mints a token for a user with role and optional partner.
func (h *harness) token(role string, partner *int64) string {
	h.t.Helper()
	tok, _, err := h.tokens.Issue(portal.User{ID: 99, Email: "caller@example.com", Role: role, BusinessPartnerID: partner})
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, target, token string, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(auth.HeaderName, token)
	}
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	return rr
}
