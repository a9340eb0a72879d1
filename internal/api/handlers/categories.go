package handlers

import (
	"net/http"

	"github.com/dvloznov/taxledger/internal/api/middleware"
)

// CategoryLister lists the canonical expense categories.
type CategoryLister interface {
	CategoryNames() []string
}

// CategoriesHandler handles category-related requests.
type CategoriesHandler struct {
	categories CategoryLister
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(categories CategoryLister) *CategoriesHandler {
	return &CategoriesHandler{categories: categories}
}

// ListCategories handles GET /categories.
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	names := h.categories.CategoryNames()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": names,
		"count":      len(names),
	})
}
