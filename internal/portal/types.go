// Package portal defines the core entities and contracts shared across the
// portal subsystems.
package portal

import (
	"encoding/json"
	"time"
)

// Role names carried in auth tokens and stored on users.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleEditor     = "editor"
	RoleViewer     = "viewer"
)

// BusinessPartner is a tenant organization owning users, branding and regional scope.
type BusinessPartner struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	ContactEmail string    `json:"contact_email"`
	LogoURL      string    `json:"logo_url"`
	PrimaryColor string    `json:"primary_color"`
	RegionIDs    []int64   `json:"region_ids"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named permission level.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Region is a geographic scope used for content targeting.
type Region struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an operator account, optionally bound to a business partner.
type User struct {
	ID                int64     `json:"id"`
	BusinessPartnerID *int64    `json:"business_partner_id,omitempty"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Role              string    `json:"role"`
	Password          string    `json:"password,omitempty"`
	PasswordHash      string    `json:"-"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Category groups content and tags.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tag labels scraped content.
type Tag struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	CategoryID *int64    `json:"category_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WidgetType describes a dashboard widget that partners can be granted.
type WidgetType struct {
	ID          int64           `json:"id"`
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WidgetAccess grants a widget type to a business partner.
type WidgetAccess struct {
	ID                int64     `json:"id"`
	BusinessPartnerID int64     `json:"business_partner_id"`
	WidgetTypeID      int64     `json:"widget_type_id"`
	Enabled           bool      `json:"enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Advertisement is a partner-owned banner shown in the portal.
type Advertisement struct {
	ID                int64      `json:"id"`
	BusinessPartnerID int64      `json:"business_partner_id"`
	Title             string     `json:"title"`
	TargetURL         string     `json:"target_url"`
	ImageURL          string     `json:"image_url"`
	RegionID          *int64     `json:"region_id,omitempty"`
	StartsAt          *time.Time `json:"starts_at,omitempty"`
	EndsAt            *time.Time `json:"ends_at,omitempty"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// PartnerAction records something a business partner did or requested.
type PartnerAction struct {
	ID                int64           `json:"id"`
	BusinessPartnerID int64           `json:"business_partner_id"`
	ActionType        string          `json:"action_type"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	CreatedBy         *int64          `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Source types understood by the scraper.
const (
	SourceHTML = "html"
	SourceRSS  = "rss"
)

// ScrapingRule is a stored set of selectors used to extract items from a source.
type ScrapingRule struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	SourceURL     string    `json:"source_url"`
	SourceType    string    `json:"source_type"`
	ItemSelector  string    `json:"item_selector"`
	TitleSelector string    `json:"title_selector"`
	BodySelector  string    `json:"body_selector"`
	LinkSelector  string    `json:"link_selector"`
	DateSelector  string    `json:"date_selector"`
	ImageSelector string    `json:"image_selector"`
	URLPattern    string    `json:"url_pattern"`
	RenderJS      bool      `json:"render_js"`
	CategoryID    *int64    `json:"category_id,omitempty"`
	RegionID      *int64    `json:"region_id,omitempty"`
	TagIDs        []int64   `json:"tag_ids"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ScrapedContent is one item extracted by a scraping rule.
type ScrapedContent struct {
	ID           int64      `json:"id"`
	RuleID       int64      `json:"rule_id"`
	URL          string     `json:"url"`
	URLHash      string     `json:"url_hash"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	BodyMarkdown string     `json:"body_markdown"`
	ImageURL     string     `json:"image_url"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	RegionID     *int64     `json:"region_id,omitempty"`
	CategoryID   *int64     `json:"category_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TrafficIncident is a road event reported for a region.
type TrafficIncident struct {
	ID          int64      `json:"id"`
	RegionID    *int64     `json:"region_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Source      string     `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AIPromptRule is a stored template plus the provider used to generate content.
type AIPromptRule struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	Template     string    `json:"template"`
	Temperature  float64   `json:"temperature"`
	MaxTokens    int       `json:"max_tokens"`
	CategoryID   *int64    `json:"category_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GeneratedContent is text produced by an AI provider for a prompt rule.
type GeneratedContent struct {
	ID             int64     `json:"id"`
	RuleID         int64     `json:"rule_id"`
	SubscriptionID *int64    `json:"subscription_id,omitempty"`
	JobID          string    `json:"job_id"`
	RegionID       *int64    `json:"region_id,omitempty"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Keywords       []string  `json:"keywords"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ContentSubscription triggers periodic generation for a (rule, region, keywords) tuple.
type ContentSubscription struct {
	ID                int64      `json:"id"`
	BusinessPartnerID *int64     `json:"business_partner_id,omitempty"`
	PromptRuleID      int64      `json:"prompt_rule_id"`
	ScrapingRuleID    *int64     `json:"scraping_rule_id,omitempty"`
	RegionID          int64      `json:"region_id"`
	Keywords          []string   `json:"keywords"`
	UseSearch         bool       `json:"use_search"`
	Active            bool       `json:"active"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CacheEntry points a content fingerprint at previously generated content.
type CacheEntry struct {
	RuleID      int64     `json:"rule_id"`
	RegionID    int64     `json:"region_id"`
	KeywordHash string    `json:"keyword_hash"`
	ContentID   int64     `json:"content_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuditEntry records an unhandled failure observed at the HTTP boundary.
type AuditEntry struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedItem is one entry of the public content feed.
type FeedItem struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	URL        string    `json:"url,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	RegionID   *int64    `json:"region_id,omitempty"`
	CategoryID *int64    `json:"category_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Feed item types.
const (
	FeedTypeScraped   = "scraped"
	FeedTypeGenerated = "generated"
)
