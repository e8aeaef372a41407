package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"genpipe/internal/catalog"
	"genpipe/internal/domain"
)

type catalogResponse struct {
	Capability domain.Capability            `json:"capability"`
	Items      []catalog.ProviderDescriptor `json:"items"`
}

// CatalogList returns every service and model registered for one capability.
func (a *App) CatalogList(w http.ResponseWriter, r *http.Request) {
	c := domain.Capability(chi.URLParam(r, "capability"))
	if !c.Valid() {
		a.error(w, http.StatusNotFound, "not_found", "unknown capability "+string(c))
		return
	}
	items := a.Catalog.Descriptors(c)
	if items == nil {
		items = []catalog.ProviderDescriptor{}
	}
	a.json(w, http.StatusOK, catalogResponse{Capability: c, Items: items})
}
