package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/portal"
)

type mounter interface {
	mount(r chi.Router)
}

// resource serves list/get/create/update/delete for one entity under
// /api/{path}. Reads need the viewer role, writes need writeRole.
type resource[T portal.Record] struct {
	s         *Server
	path      string
	repo      portal.Repository[T]
	writeRole string
	// scoped limits rows to the caller's business partner.
	scoped bool
	// prepare runs after validation; old is nil on create.
	prepare func(r *http.Request, v *T, old *T) error
	// after runs once a write succeeded; v is nil on delete.
	after func(ctx context.Context, old *T, v *T) error
	// present shapes rows for output.
	present func(T) T
	// extra mounts additional routes on the resource subrouter.
	extra func(r chi.Router)
}

func (res *resource[T]) mount(r chi.Router) {
	r.Route("/"+res.path, func(r chi.Router) {
		if res.extra != nil {
			res.extra(r)
		}
		r.Get("/", res.list)
		r.Get("/{id}", res.get)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(res.writeRole))
			r.Post("/", res.create)
			r.Put("/{id}", res.update)
			r.Delete("/{id}", res.remove)
		})
	})
}

func (res *resource[T]) list(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		res.s.fail(w, r, err)
		return
	}
	opts := portal.ListOptions{Limit: limit, Offset: offset, ActiveOnly: r.URL.Query().Get("active") == "true"}
	if opts.RegionID, err = queryID(r, "region_id"); err != nil {
		res.s.fail(w, r, err)
		return
	}
	if opts.CategoryID, err = queryID(r, "category_id"); err != nil {
		res.s.fail(w, r, err)
		return
	}
	if res.scoped {
		opts.BusinessPartnerID = claimsOf(r).PartnerScope()
	}
	items, total, err := res.repo.List(r.Context(), opts)
	if err != nil {
		res.s.fail(w, r, err)
		return
	}
	if res.present != nil {
		for i := range items {
			items[i] = res.present(items[i])
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (res *resource[T]) get(w http.ResponseWriter, r *http.Request) {
	v, err := res.load(r)
	if err != nil {
		res.s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.output(v))
}

func (res *resource[T]) create(w http.ResponseWriter, r *http.Request) {
	var v T
	if err := res.accept(w, r, &v, nil); err != nil {
		res.s.fail(w, r, err)
		return
	}
	created, err := res.repo.Create(r.Context(), v)
	if err != nil {
		res.s.fail(w, r, err)
		return
	}
	if res.after != nil {
		if err := res.after(r.Context(), nil, &created); err != nil {
			res.s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, res.output(created))
}

func (res *resource[T]) update(w http.ResponseWriter, r *http.Request) {
	old, err := res.load(r)
	if err != nil {
		res.s.fail(w, r, err)
		return
	}
	id, _ := parseID(r, "id") //nolint:errcheck // load already validated it
	var v T
	if err := res.accept(w, r, &v, &old); err != nil {
		res.s.fail(w, r, err)
		return
	}
	updated, err := res.repo.Update(r.Context(), id, v)
	if err != nil {
		res.s.fail(w, r, err)
		return
	}
	if res.after != nil {
		if err := res.after(r.Context(), &old, &updated); err != nil {
			res.s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, res.output(updated))
}

func (res *resource[T]) remove(w http.ResponseWriter, r *http.Request) {
	old, err := res.load(r)
	if err != nil {
		res.s.fail(w, r, err)
		return
	}
	id, _ := parseID(r, "id") //nolint:errcheck // load already validated it
	if err := res.repo.Delete(r.Context(), id); err != nil {
		res.s.fail(w, r, err)
		return
	}
	if res.after != nil {
		if err := res.after(r.Context(), &old, nil); err != nil {
			res.s.fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// load fetches the row named by {id} and checks partner scope.
func (res *resource[T]) load(r *http.Request) (T, error) {
	var zero T
	id, err := parseID(r, "id")
	if err != nil {
		return zero, err
	}
	v, err := res.repo.Get(r.Context(), id)
	if err != nil {
		return zero, err
	}
	if err := res.checkScope(r, v); err != nil {
		return zero, err
	}
	return v, nil
}

// accept decodes, validates and scope-checks a write body.
func (res *resource[T]) accept(w http.ResponseWriter, r *http.Request, v *T, old *T) error {
	if err := decodeJSON(w, r, v); err != nil {
		return err
	}
	if err := (*v).Validate(); err != nil {
		return err
	}
	if res.prepare != nil {
		if err := res.prepare(r, v, old); err != nil {
			return err
		}
	}
	return res.checkScope(r, *v)
}

func (res *resource[T]) checkScope(r *http.Request, v T) error {
	if !res.scoped {
		return nil
	}
	owned, ok := any(v).(portal.PartnerOwned)
	if !ok {
		return nil
	}
	if !claimsOf(r).CanAccessPartner(owned.OwnerPartnerID()) {
		return fmt.Errorf("%s outside caller scope: %w", res.path, portal.ErrForbidden)
	}
	return nil
}

func (res *resource[T]) output(v T) T {
	if res.present != nil {
		return res.present(v)
	}
	return v
}
