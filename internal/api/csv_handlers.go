package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/portal"
)

const (
	csvExportLimit = 10000
	maxCSVBody     = 5 << 20
)

// exportTags handles GET /api/tags/export.
func (s *Server) exportTags(w http.ResponseWriter, r *http.Request) {
	tags, _, err := s.stores.Tags.List(r.Context(), portal.ListOptions{Limit: csvExportLimit})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows := make([][]string, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, []string{strconv.FormatInt(t.ID, 10), t.Name, t.Slug, formatOptionalID(t.CategoryID)})
	}
	s.writeCSV(w, r, "tags.csv", []string{"id", "name", "slug", "category_id"}, rows)
}

// importTags handles POST /api/tags/import with a text/csv body whose header
// names the columns name, slug and optionally category_id. All rows are
// written in one transaction.
func (s *Server) importTags(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be text/csv")
		return
	}
	tags, err := parseTagCSV(http.MaxBytesReader(w, r.Body, maxCSVBody))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.stores.Tags.Import(r.Context(), tags)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("tags imported", zap.Int("rows", n))
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// exportUsers handles GET /api/users/export. Non super admins only see their
// own partner's accounts.
func (s *Server) exportUsers(w http.ResponseWriter, r *http.Request) {
	opts := portal.ListOptions{Limit: csvExportLimit, BusinessPartnerID: claimsOf(r).PartnerScope()}
	users, _, err := s.stores.Users.List(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10),
			u.Email,
			u.Name,
			u.Role,
			formatOptionalID(u.BusinessPartnerID),
			strconv.FormatBool(u.Active),
		})
	}
	s.writeCSV(w, r, "users.csv", []string{"id", "email", "name", "role", "business_partner_id", "active"}, rows)
}

func (s *Server) writeCSV(w http.ResponseWriter, r *http.Request, filename string, header []string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		s.logger.Error("write CSV header failed", zap.String("path", r.URL.Path), zap.Error(err))
		return
	}
	for _, row := range rows {
		for i := range row {
			row[i] = sanitizeCSVField(row[i])
		}
		if err := cw.Write(row); err != nil {
			s.logger.Error("write CSV row failed", zap.String("path", r.URL.Path), zap.Error(err))
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("flush CSV failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func parseTagCSV(body io.Reader) ([]portal.Tag, error) {
	cr := csv.NewReader(body)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, portal.Invalid("", "CSV body is empty")
		}
		return nil, portal.Invalid("", "invalid CSV: "+err.Error())
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))] = i
	}
	nameCol, ok := cols["name"]
	if !ok {
		return nil, portal.Invalid("", "CSV header must contain name")
	}
	slugCol, ok := cols["slug"]
	if !ok {
		return nil, portal.Invalid("", "CSV header must contain slug")
	}
	catCol, hasCat := cols["category_id"]

	var tags []portal.Tag
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, portal.Invalid("", fmt.Sprintf("invalid CSV at line %d: %v", line, err))
		}
		t := portal.Tag{Name: field(rec, nameCol), Slug: field(rec, slugCol)}
		if hasCat {
			if raw := field(rec, catCol); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return nil, portal.Invalid("category_id", fmt.Sprintf("is not an integer at line %d", line))
				}
				t.CategoryID = &id
			}
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		return nil, portal.Invalid("", "CSV has no rows")
	}
	return tags, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

// sanitizeCSVField neutralizes values spreadsheet tools would run as formulas.
func sanitizeCSVField(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}
