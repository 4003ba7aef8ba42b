package portal

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ListOptions narrows list queries. Zero values mean "no filter".
type ListOptions struct {
	Limit             int
	Offset            int
	BusinessPartnerID *int64
	RegionID          *int64
	CategoryID        *int64
	ActiveOnly        bool
}

// Repository is the data-access contract every CRUD entity satisfies.
type Repository[T any] interface {
	List(ctx context.Context, opts ListOptions) ([]T, int, error)
	Get(ctx context.Context, id int64) (T, error)
	Create(ctx context.Context, v T) (T, error)
	Update(ctx context.Context, id int64, v T) (T, error)
	Delete(ctx context.Context, id int64) error
}

// UserStore adds lookups needed by authentication.
type UserStore interface {
	Repository[User]
	GetByEmail(ctx context.Context, email string) (User, error)
}

// TagStore adds bulk import of tags inside one transaction.
type TagStore interface {
	Repository[Tag]
	Import(ctx context.Context, tags []Tag) (int, error)
}

// WidgetAccessStore adds the partner-facing widget lookup.
type WidgetAccessStore interface {
	Repository[WidgetAccess]
	EnabledWidgets(ctx context.Context, partnerID int64) ([]WidgetType, error)
}

// ScrapedContentStore adds idempotent inserts keyed by URL hash.
type ScrapedContentStore interface {
	Repository[ScrapedContent]
	// Insert stores c unless its URL hash is already present. The boolean
	// reports whether a new row was written.
	Insert(ctx context.Context, c ScrapedContent) (bool, error)
	Latest(ctx context.Context, regionID int64, limit int) ([]ScrapedContent, error)
}

// SubscriptionStore adds pipeline bookkeeping.
type SubscriptionStore interface {
	Repository[ContentSubscription]
	MarkRun(ctx context.Context, id int64, at time.Time) error
}

// JobStore persists job rows and their append-only logs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, kind JobKind, jobID string, status JobStatus, errText string) error
	GetJob(ctx context.Context, kind JobKind, jobID string) (Job, error)
	AppendLogs(ctx context.Context, kind JobKind, logs []JobLog) error
	ListLogs(ctx context.Context, kind JobKind, jobID string) ([]JobLog, error)
}

// ContentCache stores fingerprints of generated content with explicit expiry.
type ContentCache interface {
	Lookup(ctx context.Context, ruleID, regionID int64, keywordHash string, now time.Time) (CacheEntry, bool, error)
	Put(ctx context.Context, entry CacheEntry) error
	InvalidateRule(ctx context.Context, ruleID int64) error
	InvalidateRuleRegion(ctx context.Context, ruleID, regionID int64) error
}

// FeedQuery selects a page of the public feed.
type FeedQuery struct {
	RegionID   *int64
	CategoryID *int64
	Type       string
	Limit      int
	Offset     int
}

// FeedStore reads the merged content feed.
type FeedStore interface {
	Feed(ctx context.Context, q FeedQuery) ([]FeedItem, int, error)
}

// AuditStore records unhandled failures.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// BlobStore writes uploaded artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	// RobotsReason is set when robots.txt could not be read and the fetch
	// proceeded as if everything were allowed.
	RobotsReason string
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// JobLogger appends progress lines to the log of the job being processed.
type JobLogger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
