package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"

	"github.com/fleetinfo/portal/internal/ai"
	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/fingerprint"
	"github.com/fleetinfo/portal/internal/portal"
)

// resources lists every CRUD entity with its write role and hooks.
func (s *Server) resources() []mounter {
	st := s.stores
	return []mounter{
		&resource[portal.BusinessPartner]{
			s: s, path: "business-partners", repo: st.Partners,
			writeRole: portal.RoleSuperAdmin, scoped: true,
		},
		&resource[portal.Region]{s: s, path: "regions", repo: st.Regions, writeRole: portal.RoleSuperAdmin},
		&resource[portal.User]{
			s: s, path: "users", repo: st.Users,
			writeRole: portal.RoleAdmin, scoped: true,
			prepare: prepareUser,
			present: func(u portal.User) portal.User {
				u.Password = ""
				return u
			},
			extra: func(r chi.Router) {
				r.With(auth.RequireRole(portal.RoleAdmin)).Get("/export", s.exportUsers)
			},
		},
		&resource[portal.Category]{s: s, path: "categories", repo: st.Categories, writeRole: portal.RoleEditor},
		&resource[portal.Tag]{
			s: s, path: "tags", repo: st.Tags, writeRole: portal.RoleEditor,
			extra: func(r chi.Router) {
				r.Get("/export", s.exportTags)
				r.With(auth.RequireRole(portal.RoleEditor)).Post("/import", s.importTags)
			},
		},
		&resource[portal.WidgetType]{s: s, path: "widget-types", repo: st.WidgetTypes, writeRole: portal.RoleSuperAdmin},
		&resource[portal.WidgetAccess]{
			s: s, path: "widget-access", repo: st.WidgetAccess,
			writeRole: portal.RoleSuperAdmin, scoped: true,
		},
		&resource[portal.Advertisement]{
			s: s, path: "advertisements", repo: st.Advertisements,
			writeRole: portal.RoleAdmin, scoped: true,
			extra: func(r chi.Router) {
				r.With(auth.RequireRole(portal.RoleAdmin)).Post("/{id}/image", s.uploadAdImage)
			},
		},
		&resource[portal.PartnerAction]{
			s: s, path: "partner-actions", repo: st.PartnerActions,
			writeRole: portal.RoleEditor, scoped: true,
			prepare: func(r *http.Request, a *portal.PartnerAction, old *portal.PartnerAction) error {
				if old != nil {
					a.CreatedBy = old.CreatedBy
					return nil
				}
				uid := claimsOf(r).UserID
				a.CreatedBy = &uid
				return nil
			},
		},
		&resource[portal.ScrapingRule]{
			s: s, path: "scraping-rules", repo: st.ScrapingRules, writeRole: portal.RoleEditor,
			extra: func(r chi.Router) {
				r.With(auth.RequireRole(portal.RoleEditor)).Post("/{id}/trigger-scrape", s.triggerScrape)
			},
		},
		&resource[portal.ScrapedContent]{
			s: s, path: "scraped-content", repo: st.ScrapedContent, writeRole: portal.RoleEditor,
			prepare: prepareScrapedContent,
			after:   flushFeed[portal.ScrapedContent](s.feedCache),
		},
		&resource[portal.TrafficIncident]{s: s, path: "traffic-incidents", repo: st.Traffic, writeRole: portal.RoleEditor},
		&resource[portal.AIPromptRule]{
			s: s, path: "ai-prompt-rules", repo: st.PromptRules, writeRole: portal.RoleEditor,
			prepare: func(_ *http.Request, rule *portal.AIPromptRule, _ *portal.AIPromptRule) error {
				if err := ai.ValidateTemplate(rule.Template); err != nil {
					return portal.Invalid("template", err.Error())
				}
				return nil
			},
			after: s.invalidatePromptRule,
			extra: func(r chi.Router) {
				r.With(auth.RequireRole(portal.RoleEditor)).Post("/{id}/execute", s.executePromptRule)
			},
		},
		&resource[portal.GeneratedContent]{
			s: s, path: "generated-content", repo: st.Generated, writeRole: portal.RoleEditor,
			after: flushFeed[portal.GeneratedContent](s.feedCache),
		},
		&resource[portal.ContentSubscription]{
			s: s, path: "content-subscriptions", repo: st.Subscriptions,
			writeRole: portal.RoleAdmin, scoped: true,
			prepare: func(_ *http.Request, c *portal.ContentSubscription, _ *portal.ContentSubscription) error {
				c.Keywords = portal.NormalizeKeywords(c.Keywords)
				return nil
			},
			after: s.invalidateSubscription,
			extra: func(r chi.Router) {
				r.With(auth.RequireRole(portal.RoleSuperAdmin)).Post("/process-all", s.processAllSubscriptions)
				r.With(auth.RequireRole(portal.RoleEditor)).Post("/{id}/process", s.processSubscription)
			},
		},
	}
}

// prepareUser hashes a supplied password and keeps callers from minting
// accounts stronger than their own.
func prepareUser(r *http.Request, u *portal.User, old *portal.User) error {
	claims := claimsOf(r)
	if !claims.AtLeast(u.Role) {
		return fmt.Errorf("assign role %s: %w", u.Role, portal.ErrForbidden)
	}
	if old == nil && u.Password == "" {
		return portal.Invalid("password", "is required")
	}
	if u.Password != "" {
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		u.Password = ""
	}
	return nil
}

// prepareScrapedContent derives the dedup hash from the URL. The URL and its
// hash are fixed once a row exists.
func prepareScrapedContent(_ *http.Request, c *portal.ScrapedContent, old *portal.ScrapedContent) error {
	if old != nil {
		c.URL, c.URLHash = old.URL, old.URLHash
		return nil
	}
	c.URLHash = fingerprint.URL(c.URL)
	return nil
}

// flushFeed drops cached feed pages after content rows change.
func flushFeed[T any](c *cache.Cache) func(context.Context, *T, *T) error {
	return func(context.Context, *T, *T) error {
		c.Flush()
		return nil
	}
}

func (s *Server) invalidatePromptRule(ctx context.Context, old *portal.AIPromptRule, _ *portal.AIPromptRule) error {
	s.feedCache.Flush()
	if old == nil || s.stores.Cache == nil {
		return nil
	}
	if err := s.stores.Cache.InvalidateRule(ctx, old.ID); err != nil {
		return fmt.Errorf("invalidate cache for rule %d: %w", old.ID, err)
	}
	return nil
}

func (s *Server) invalidateSubscription(ctx context.Context, old *portal.ContentSubscription, cur *portal.ContentSubscription) error {
	if old == nil || s.stores.Cache == nil {
		return nil
	}
	if err := s.stores.Cache.InvalidateRuleRegion(ctx, old.PromptRuleID, old.RegionID); err != nil {
		return fmt.Errorf("invalidate cache for subscription %d: %w", old.ID, err)
	}
	if cur != nil && (cur.PromptRuleID != old.PromptRuleID || cur.RegionID != old.RegionID) {
		if err := s.stores.Cache.InvalidateRuleRegion(ctx, cur.PromptRuleID, cur.RegionID); err != nil {
			return fmt.Errorf("invalidate cache for subscription %d: %w", cur.ID, err)
		}
	}
	return nil
}
