package viewer

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"temporalsmith.dev/internal/recipe"
	"temporalsmith.dev/internal/recipe/book"
)

type BookSource interface {
	Book() *book.Book
}

type Handlers struct {
	books    BookSource
	dispatch *Dispatch
	log      *log.Logger
}

func NewHandlers(books BookSource, d *Dispatch, logger *log.Logger) *Handlers {
	return &Handlers{books: books, dispatch: d, log: logger}
}

type recipeSummary struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Group    string `json:"group,omitempty"`
	Result   string `json:"result"`
}

type listResponse struct {
	ReloadID string          `json:"reload_id"`
	Digest   string          `json:"digest"`
	Recipes  []recipeSummary `json:"recipes"`
}

// List serves GET /v1/recipes, optionally filtered by ?kind=.
func (h *Handlers) List() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		bk := h.books.Book()
		if bk == nil {
			http.Error(rw, "no recipe book loaded", http.StatusServiceUnavailable)
			return
		}
		entries := bk.Entries()
		if kind := strings.TrimSpace(r.URL.Query().Get("kind")); kind != "" {
			entries = bk.ByKind(recipe.Kind(kind))
		}
		resp := listResponse{ReloadID: bk.ReloadID(), Digest: bk.Digest(), Recipes: make([]recipeSummary, 0, len(entries))}
		for _, e := range entries {
			resp.Recipes = append(resp.Recipes, recipeSummary{
				ID:       e.ID,
				Kind:     string(e.Kind),
				Category: e.Recipe.Category().String(),
				Group:    e.Recipe.Group(),
				Result:   e.Recipe.ResultItem().Item,
			})
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

// Layout serves GET /v1/recipes/layout?id=.
func (h *Handlers) Layout() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(rw, "missing id", http.StatusBadRequest)
			return
		}
		bk := h.books.Book()
		if bk == nil {
			http.Error(rw, "no recipe book loaded", http.StatusServiceUnavailable)
			return
		}
		e, ok := bk.Get(id)
		if !ok {
			http.Error(rw, "unknown recipe "+id, http.StatusNotFound)
			return
		}
		l, err := h.dispatch.Layout(e.ID, e.Recipe)
		if err != nil {
			if h.log != nil {
				h.log.Printf("layout %s: %v", id, err)
			}
			http.Error(rw, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(rw, http.StatusOK, l)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
