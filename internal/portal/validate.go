package portal

import (
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Record is implemented by every entity served through the CRUD endpoints.
type Record interface {
	Validate() error
}

// PartnerOwned is implemented by entities that belong to a business partner.
// A nil owner means the record is global.
type PartnerOwned interface {
	OwnerPartnerID() *int64
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Invalid(field, "is required")
	}
	return nil
}

func validSlug(field, value string) error {
	if err := required(field, value); err != nil {
		return err
	}
	if !slugPattern.MatchString(value) {
		return Invalid(field, "must be lowercase letters, digits and dashes")
	}
	return nil
}

func validURL(field, value string, mandatory bool) error {
	if value == "" {
		if mandatory {
			return Invalid(field, "is required")
		}
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Invalid(field, "must be an absolute http(s) URL")
	}
	return nil
}

// ValidRole reports whether name is one of the known roles.
func ValidRole(name string) bool {
	return slices.Contains([]string{RoleSuperAdmin, RoleAdmin, RoleEditor, RoleViewer}, name)
}

// Validate checks required fields.
func (b BusinessPartner) Validate() error {
	if err := required("name", b.Name); err != nil {
		return err
	}
	if err := validSlug("slug", b.Slug); err != nil {
		return err
	}
	if b.ContactEmail != "" {
		if _, err := mail.ParseAddress(b.ContactEmail); err != nil {
			return Invalid("contact_email", "is not a valid address")
		}
	}
	return validURL("logo_url", b.LogoURL, false)
}

// OwnerPartnerID returns the partner itself.
func (b BusinessPartner) OwnerPartnerID() *int64 {
	id := b.ID
	return &id
}

// Validate checks required fields.
func (r Region) Validate() error {
	if err := required("code", r.Code); err != nil {
		return err
	}
	return required("name", r.Name)
}

// Validate checks required fields and role membership.
func (u User) Validate() error {
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return Invalid("email", "is not a valid address")
	}
	if err := required("name", u.Name); err != nil {
		return err
	}
	if !ValidRole(u.Role) {
		return Invalid("role", "is unknown")
	}
	if u.Role != RoleSuperAdmin && u.BusinessPartnerID == nil {
		return Invalid("business_partner_id", "is required for non super admins")
	}
	if u.Password != "" && len(u.Password) < 8 {
		return Invalid("password", "must be at least 8 characters")
	}
	return nil
}

// OwnerPartnerID returns the user's partner.
func (u User) OwnerPartnerID() *int64 { return u.BusinessPartnerID }

// Validate checks required fields.
func (c Category) Validate() error {
	if err := required("name", c.Name); err != nil {
		return err
	}
	if err := validSlug("slug", c.Slug); err != nil {
		return err
	}
	if c.ParentID != nil && *c.ParentID == c.ID && c.ID != 0 {
		return Invalid("parent_id", "cannot reference itself")
	}
	return nil
}

// Validate checks required fields.
func (t Tag) Validate() error {
	if err := required("name", t.Name); err != nil {
		return err
	}
	return validSlug("slug", t.Slug)
}

// Validate checks required fields.
func (w WidgetType) Validate() error {
	if err := required("key", w.Key); err != nil {
		return err
	}
	return required("name", w.Name)
}

// Validate checks foreign keys are present.
func (w WidgetAccess) Validate() error {
	if w.BusinessPartnerID <= 0 {
		return Invalid("business_partner_id", "is required")
	}
	if w.WidgetTypeID <= 0 {
		return Invalid("widget_type_id", "is required")
	}
	return nil
}

// OwnerPartnerID returns the grantee.
func (w WidgetAccess) OwnerPartnerID() *int64 {
	id := w.BusinessPartnerID
	return &id
}

// Validate checks required fields and the flight window.
func (a Advertisement) Validate() error {
	if a.BusinessPartnerID <= 0 {
		return Invalid("business_partner_id", "is required")
	}
	if err := required("title", a.Title); err != nil {
		return err
	}
	if err := validURL("target_url", a.TargetURL, true); err != nil {
		return err
	}
	if a.StartsAt != nil && a.EndsAt != nil && a.EndsAt.Before(*a.StartsAt) {
		return Invalid("ends_at", "must not be before starts_at")
	}
	return nil
}

// OwnerPartnerID returns the advertiser.
func (a Advertisement) OwnerPartnerID() *int64 {
	id := a.BusinessPartnerID
	return &id
}

// Validate checks required fields.
func (p PartnerAction) Validate() error {
	if p.BusinessPartnerID <= 0 {
		return Invalid("business_partner_id", "is required")
	}
	return required("action_type", p.ActionType)
}

// OwnerPartnerID returns the acting partner.
func (p PartnerAction) OwnerPartnerID() *int64 {
	id := p.BusinessPartnerID
	return &id
}

// Validate checks the source and selectors. An html rule without an item
// selector scrapes the whole page as one item.
func (r ScrapingRule) Validate() error {
	if err := required("name", r.Name); err != nil {
		return err
	}
	if err := validURL("source_url", r.SourceURL, true); err != nil {
		return err
	}
	switch r.SourceType {
	case SourceHTML, SourceRSS:
	default:
		return Invalid("source_type", "must be html or rss")
	}
	if r.URLPattern != "" {
		if _, err := regexp.Compile(r.URLPattern); err != nil {
			return Invalid("url_pattern", "is not a valid regular expression")
		}
	}
	return nil
}

// Validate checks required fields.
func (c ScrapedContent) Validate() error {
	if c.RuleID <= 0 {
		return Invalid("rule_id", "is required")
	}
	if err := validURL("url", c.URL, true); err != nil {
		return err
	}
	return required("title", c.Title)
}

var severities = []string{"low", "medium", "high", "critical"}

// Validate checks required fields and coordinate ranges.
func (t TrafficIncident) Validate() error {
	if err := required("title", t.Title); err != nil {
		return err
	}
	if t.Severity != "" && !slices.Contains(severities, t.Severity) {
		return Invalid("severity", "must be one of low, medium, high, critical")
	}
	if t.Latitude != nil && (*t.Latitude < -90 || *t.Latitude > 90) {
		return Invalid("latitude", "is out of range")
	}
	if t.Longitude != nil && (*t.Longitude < -180 || *t.Longitude > 180) {
		return Invalid("longitude", "is out of range")
	}
	return nil
}

// Validate checks required fields and generation limits.
func (r AIPromptRule) Validate() error {
	if err := required("name", r.Name); err != nil {
		return err
	}
	if err := required("provider", r.Provider); err != nil {
		return err
	}
	if err := required("template", r.Template); err != nil {
		return err
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return Invalid("temperature", "must be between 0 and 2")
	}
	if r.MaxTokens < 0 {
		return Invalid("max_tokens", "must not be negative")
	}
	return nil
}

// Validate checks required fields.
func (g GeneratedContent) Validate() error {
	if g.RuleID <= 0 {
		return Invalid("rule_id", "is required")
	}
	return required("content", g.Content)
}

// Validate checks required fields.
func (s ContentSubscription) Validate() error {
	if s.PromptRuleID <= 0 {
		return Invalid("prompt_rule_id", "is required")
	}
	if s.RegionID <= 0 {
		return Invalid("region_id", "is required")
	}
	if len(NormalizeKeywords(s.Keywords)) == 0 {
		return Invalid("keywords", "must contain at least one keyword")
	}
	return nil
}

// OwnerPartnerID returns the subscribing partner.
func (s ContentSubscription) OwnerPartnerID() *int64 { return s.BusinessPartnerID }

// NormalizeKeywords lowercases, trims, drops empties and duplicates, and sorts.
func NormalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		out = append(out, kw)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
