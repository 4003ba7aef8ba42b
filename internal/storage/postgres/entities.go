package postgres

import (
	"github.com/fleetinfo/portal/internal/portal"
)

var partnersTable = table[portal.BusinessPartner]{
	name:       "business_partners",
	columns:    []string{"name", "slug", "contact_email", "logo_url", "primary_color", "region_ids", "active"},
	partnerCol: "id",
	activeCol:  "active",
	values: func(b *portal.BusinessPartner) []any {
		return []any{b.Name, b.Slug, b.ContactEmail, b.LogoURL, b.PrimaryColor, nonNilIDs(b.RegionIDs), b.Active}
	},
	scan: func(row scanner) (portal.BusinessPartner, error) {
		var b portal.BusinessPartner
		err := row.Scan(&b.ID, &b.Name, &b.Slug, &b.ContactEmail, &b.LogoURL, &b.PrimaryColor, &b.RegionIDs,
			&b.Active, &b.CreatedAt, &b.UpdatedAt)
		return b, err
	},
}

var regionsTable = table[portal.Region]{
	name:    "regions",
	columns: []string{"code", "name"},
	values:  func(r *portal.Region) []any { return []any{r.Code, r.Name} },
	scan: func(row scanner) (portal.Region, error) {
		var r portal.Region
		err := row.Scan(&r.ID, &r.Code, &r.Name, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	},
}

var usersTable = table[portal.User]{
	name:        "users",
	columns:     []string{"business_partner_id", "email", "name", "role", "password_hash", "active"},
	partnerCol:  "business_partner_id",
	activeCol:   "active",
	keepIfEmpty: map[string]bool{"password_hash": true},
	values: func(u *portal.User) []any {
		return []any{u.BusinessPartnerID, u.Email, u.Name, u.Role, u.PasswordHash, u.Active}
	},
	scan: func(row scanner) (portal.User, error) {
		var u portal.User
		err := row.Scan(&u.ID, &u.BusinessPartnerID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.Active,
			&u.CreatedAt, &u.UpdatedAt)
		return u, err
	},
}

var categoriesTable = table[portal.Category]{
	name:    "categories",
	columns: []string{"name", "slug", "parent_id"},
	values:  func(c *portal.Category) []any { return []any{c.Name, c.Slug, c.ParentID} },
	scan: func(row scanner) (portal.Category, error) {
		var c portal.Category
		err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	},
}

var tagsTable = table[portal.Tag]{
	name:        "tags",
	columns:     []string{"name", "slug", "category_id"},
	categoryCol: "category_id",
	values:      func(t *portal.Tag) []any { return []any{t.Name, t.Slug, t.CategoryID} },
	scan: func(row scanner) (portal.Tag, error) {
		var t portal.Tag
		err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.CategoryID, &t.CreatedAt, &t.UpdatedAt)
		return t, err
	},
}

var widgetTypesTable = table[portal.WidgetType]{
	name:    "widget_types",
	columns: []string{"key", "name", "description", "config"},
	values: func(w *portal.WidgetType) []any {
		return []any{w.Key, w.Name, w.Description, jsonArg(w.Config)}
	},
	scan: func(row scanner) (portal.WidgetType, error) {
		var w portal.WidgetType
		err := row.Scan(&w.ID, &w.Key, &w.Name, &w.Description, &w.Config, &w.CreatedAt, &w.UpdatedAt)
		return w, err
	},
}

var widgetAccessTable = table[portal.WidgetAccess]{
	name:       "widget_access",
	columns:    []string{"business_partner_id", "widget_type_id", "enabled"},
	partnerCol: "business_partner_id",
	activeCol:  "enabled",
	values: func(w *portal.WidgetAccess) []any {
		return []any{w.BusinessPartnerID, w.WidgetTypeID, w.Enabled}
	},
	scan: func(row scanner) (portal.WidgetAccess, error) {
		var w portal.WidgetAccess
		err := row.Scan(&w.ID, &w.BusinessPartnerID, &w.WidgetTypeID, &w.Enabled, &w.CreatedAt, &w.UpdatedAt)
		return w, err
	},
}

var advertisementsTable = table[portal.Advertisement]{
	name: "advertisements",
	columns: []string{"business_partner_id", "title", "target_url", "image_url", "region_id",
		"starts_at", "ends_at", "active"},
	partnerCol: "business_partner_id",
	regionCol:  "region_id",
	activeCol:  "active",
	values: func(a *portal.Advertisement) []any {
		return []any{a.BusinessPartnerID, a.Title, a.TargetURL, a.ImageURL, a.RegionID, a.StartsAt, a.EndsAt, a.Active}
	},
	scan: func(row scanner) (portal.Advertisement, error) {
		var a portal.Advertisement
		err := row.Scan(&a.ID, &a.BusinessPartnerID, &a.Title, &a.TargetURL, &a.ImageURL, &a.RegionID,
			&a.StartsAt, &a.EndsAt, &a.Active, &a.CreatedAt, &a.UpdatedAt)
		return a, err
	},
}

var partnerActionsTable = table[portal.PartnerAction]{
	name:       "business_partner_actions",
	columns:    []string{"business_partner_id", "action_type", "payload", "created_by"},
	partnerCol: "business_partner_id",
	readOnly:   map[string]bool{"created_by": true},
	values: func(p *portal.PartnerAction) []any {
		return []any{p.BusinessPartnerID, p.ActionType, jsonArg(p.Payload), p.CreatedBy}
	},
	scan: func(row scanner) (portal.PartnerAction, error) {
		var p portal.PartnerAction
		err := row.Scan(&p.ID, &p.BusinessPartnerID, &p.ActionType, &p.Payload, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	},
}

var scrapingRulesTable = table[portal.ScrapingRule]{
	name: "scraping_rules",
	columns: []string{"name", "source_url", "source_type", "item_selector", "title_selector", "body_selector",
		"link_selector", "date_selector", "image_selector", "url_pattern", "render_js", "category_id", "region_id", "active"},
	regionCol:   "region_id",
	categoryCol: "category_id",
	activeCol:   "active",
	values: func(r *portal.ScrapingRule) []any {
		return []any{r.Name, r.SourceURL, r.SourceType, r.ItemSelector, r.TitleSelector, r.BodySelector,
			r.LinkSelector, r.DateSelector, r.ImageSelector, r.URLPattern, r.RenderJS, r.CategoryID, r.RegionID, r.Active}
	},
	scan: func(row scanner) (portal.ScrapingRule, error) {
		var r portal.ScrapingRule
		err := row.Scan(&r.ID, &r.Name, &r.SourceURL, &r.SourceType, &r.ItemSelector, &r.TitleSelector,
			&r.BodySelector, &r.LinkSelector, &r.DateSelector, &r.ImageSelector, &r.URLPattern, &r.RenderJS,
			&r.CategoryID, &r.RegionID, &r.Active, &r.CreatedAt, &r.UpdatedAt)
		r.TagIDs = []int64{}
		return r, err
	},
}

var scrapedContentTable = table[portal.ScrapedContent]{
	name: "scraped_content",
	columns: []string{"rule_id", "url", "url_hash", "title", "body", "body_markdown", "image_url",
		"published_at", "region_id", "category_id"},
	regionCol:   "region_id",
	categoryCol: "category_id",
	readOnly:    map[string]bool{"rule_id": true, "url": true, "url_hash": true},
	values: func(c *portal.ScrapedContent) []any {
		return []any{c.RuleID, c.URL, c.URLHash, c.Title, c.Body, c.BodyMarkdown, c.ImageURL,
			c.PublishedAt, c.RegionID, c.CategoryID}
	},
	scan: func(row scanner) (portal.ScrapedContent, error) {
		var c portal.ScrapedContent
		err := row.Scan(&c.ID, &c.RuleID, &c.URL, &c.URLHash, &c.Title, &c.Body, &c.BodyMarkdown, &c.ImageURL,
			&c.PublishedAt, &c.RegionID, &c.CategoryID, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	},
}

var trafficTable = table[portal.TrafficIncident]{
	name: "traffic_incidents",
	columns: []string{"region_id", "title", "description", "severity", "latitude", "longitude",
		"starts_at", "ends_at", "source"},
	regionCol: "region_id",
	values: func(t *portal.TrafficIncident) []any {
		return []any{t.RegionID, t.Title, t.Description, t.Severity, t.Latitude, t.Longitude, t.StartsAt, t.EndsAt, t.Source}
	},
	scan: func(row scanner) (portal.TrafficIncident, error) {
		var t portal.TrafficIncident
		err := row.Scan(&t.ID, &t.RegionID, &t.Title, &t.Description, &t.Severity, &t.Latitude, &t.Longitude,
			&t.StartsAt, &t.EndsAt, &t.Source, &t.CreatedAt, &t.UpdatedAt)
		return t, err
	},
}

var promptRulesTable = table[portal.AIPromptRule]{
	name: "ai_prompt_rules",
	columns: []string{"name", "provider", "model", "system_prompt", "template", "temperature", "max_tokens",
		"category_id", "active"},
	categoryCol: "category_id",
	activeCol:   "active",
	values: func(r *portal.AIPromptRule) []any {
		return []any{r.Name, r.Provider, r.Model, r.SystemPrompt, r.Template, r.Temperature, r.MaxTokens,
			r.CategoryID, r.Active}
	},
	scan: func(row scanner) (portal.AIPromptRule, error) {
		var r portal.AIPromptRule
		err := row.Scan(&r.ID, &r.Name, &r.Provider, &r.Model, &r.SystemPrompt, &r.Template, &r.Temperature,
			&r.MaxTokens, &r.CategoryID, &r.Active, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	},
}

var generatedTable = table[portal.GeneratedContent]{
	name: "ai_generated_content",
	columns: []string{"rule_id", "subscription_id", "job_id", "region_id", "title", "content", "provider",
		"model", "keywords"},
	regionCol: "region_id",
	readOnly: map[string]bool{"rule_id": true, "subscription_id": true, "job_id": true,
		"provider": true, "model": true},
	values: func(g *portal.GeneratedContent) []any {
		return []any{g.RuleID, g.SubscriptionID, g.JobID, g.RegionID, g.Title, g.Content, g.Provider, g.Model,
			nonNilStrings(g.Keywords)}
	},
	scan: func(row scanner) (portal.GeneratedContent, error) {
		var g portal.GeneratedContent
		err := row.Scan(&g.ID, &g.RuleID, &g.SubscriptionID, &g.JobID, &g.RegionID, &g.Title, &g.Content,
			&g.Provider, &g.Model, &g.Keywords, &g.CreatedAt, &g.UpdatedAt)
		return g, err
	},
}

var subscriptionsTable = table[portal.ContentSubscription]{
	name: "content_subscriptions",
	columns: []string{"business_partner_id", "prompt_rule_id", "scraping_rule_id", "region_id", "keywords",
		"use_search", "active", "last_run_at"},
	partnerCol: "business_partner_id",
	regionCol:  "region_id",
	activeCol:  "active",
	readOnly:   map[string]bool{"last_run_at": true},
	values: func(s *portal.ContentSubscription) []any {
		return []any{s.BusinessPartnerID, s.PromptRuleID, s.ScrapingRuleID, s.RegionID,
			portal.NormalizeKeywords(s.Keywords), s.UseSearch, s.Active, s.LastRunAt}
	},
	scan: func(row scanner) (portal.ContentSubscription, error) {
		var s portal.ContentSubscription
		err := row.Scan(&s.ID, &s.BusinessPartnerID, &s.PromptRuleID, &s.ScrapingRuleID, &s.RegionID, &s.Keywords,
			&s.UseSearch, &s.Active, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt)
		return s, err
	},
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// jsonArg keeps empty JSON documents as SQL NULL.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
