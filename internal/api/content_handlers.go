package api

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/portal"
)

type feedPage struct {
	Items    []portal.FeedItem `json:"items"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int               `json:"total"`
}

// feed handles GET /api/feed?region=&category=&type=&page=&page_size=.
// Pages are cached in process for feed.cache_ttl.
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	q, page, err := s.parseFeedQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	key := feedKey(q)
	if s.cfg.Feed.CacheTTL > 0 {
		if cached, ok := s.feedCache.Get(key); ok {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	items, total, err := s.stores.Feed.Feed(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := feedPage{Items: items, Page: page, PageSize: q.Limit, Total: total}
	if s.cfg.Feed.CacheTTL > 0 {
		s.feedCache.Set(key, out, cache.DefaultExpiration)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) parseFeedQuery(r *http.Request) (portal.FeedQuery, int, error) {
	vals := r.URL.Query()
	var (
		q   portal.FeedQuery
		err error
	)
	if q.RegionID, err = queryID(r, "region", "region_id"); err != nil {
		return q, 0, err
	}
	if q.CategoryID, err = queryID(r, "category", "category_id"); err != nil {
		return q, 0, err
	}
	switch t := vals.Get("type"); t {
	case "", portal.FeedTypeScraped, portal.FeedTypeGenerated:
		q.Type = t
	default:
		return q, 0, portal.Invalid("type", "must be scraped or generated")
	}

	page := 1
	if raw := vals.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			return q, 0, portal.Invalid("page", "must be a positive integer")
		}
		if page > maxFeedPage {
			return q, 0, portal.Invalid("page", "must not exceed "+strconv.Itoa(maxFeedPage))
		}
	}
	size := s.cfg.Feed.DefaultPageSize
	if size <= 0 {
		size = 20
	}
	if raw := vals.Get("page_size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil || size < 1 {
			return q, 0, portal.Invalid("page_size", "must be a positive integer")
		}
	}
	if maxSize := s.cfg.Feed.MaxPageSize; maxSize > 0 && size > maxSize {
		size = maxSize
	}
	q.Limit = size
	q.Offset = (page - 1) * size
	return q, page, nil
}

func feedKey(q portal.FeedQuery) string {
	return fmt.Sprintf("r=%s|c=%s|t=%s|l=%d|o=%d",
		formatOptionalID(q.RegionID), formatOptionalID(q.CategoryID), q.Type, q.Limit, q.Offset)
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// uploadAdImage handles POST /api/advertisements/{id}/image. The multipart
// field "file" is written to the blob store and its URI becomes image_url.
func (s *Server) uploadAdImage(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		s.fail(w, r, fmt.Errorf("uploads: %w", errUnavailable))
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ad, err := s.stores.Advertisements.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !claimsOf(r).CanAccessPartner(ad.OwnerPartnerID()) {
		s.fail(w, r, portal.ErrForbidden)
		return
	}

	maxBytes := s.cfg.Server.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.fail(w, r, portal.Invalid("file", "upload is too large or malformed"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, portal.Invalid("file", "is required"))
		return
	}
	defer file.Close() //nolint:errcheck // read-only upload

	mediaType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type")) //nolint:errcheck // empty on failure
	ext, ok := imageExtensions[strings.ToLower(mediaType)]
	if !ok {
		s.fail(w, r, portal.Invalid("file", "must be a png, jpeg, gif or webp image"))
		return
	}
	objectPath := path.Join("advertisements", strconv.FormatInt(ad.ID, 10), uuid.NewString()+ext)
	uri, err := s.blobs.PutObject(r.Context(), objectPath, mediaType, file)
	if err != nil {
		s.fail(w, r, fmt.Errorf("store advertisement image: %w", err))
		return
	}
	ad.ImageURL = uri
	updated, err := s.stores.Advertisements.Update(r.Context(), ad.ID, ad)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("advertisement image stored", zap.Int64("advertisement_id", ad.ID), zap.String("uri", uri))
	writeJSON(w, http.StatusOK, updated)
}

// myWidgets handles GET /api/widgets/mine.
func (s *Server) myWidgets(w http.ResponseWriter, r *http.Request) {
	c := claimsOf(r)
	if c.BusinessPartnerID == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []portal.WidgetType{}})
		return
	}
	widgets, err := s.stores.WidgetAccess.EnabledWidgets(r.Context(), *c.BusinessPartnerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": widgets})
}

// fuelPrices handles GET /api/fuel-prices?region=.
func (s *Server) fuelPrices(w http.ResponseWriter, r *http.Request) {
	if s.external == nil {
		s.fail(w, r, fmt.Errorf("fuel prices: %w", errUnavailable))
		return
	}
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region == "" {
		s.fail(w, r, portal.Invalid("region", "is required"))
		return
	}
	doc, err := s.external.FuelPrices(r.Context(), region)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeRaw(w, doc)
}

// evStations handles GET /api/ev-stations?lat=&lng=&radius=.
func (s *Server) evStations(w http.ResponseWriter, r *http.Request) {
	if s.external == nil {
		s.fail(w, r, fmt.Errorf("ev stations: %w", errUnavailable))
		return
	}
	lat, err := queryFloat(r, "lat", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	lng, err := queryFloat(r, "lng", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		s.fail(w, r, portal.Invalid("", "lat/lng out of range"))
		return
	}
	radius, err := queryFloat(r, "radius", false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.external.EVStations(r.Context(), lat, lng, radius)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeRaw(w, doc)
}

func writeRaw(w http.ResponseWriter, doc []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		zap.L().Error("write upstream document failed", zap.Error(err))
	}
}
