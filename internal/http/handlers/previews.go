package handlers

import (
	"net/http"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

func (api *API) Preview(w http.ResponseWriter, r *http.Request) {
	var config domain.SelectionConfig
	if err := decodeJSON(r, &config); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid selection config")
		return
	}

	preview, err := api.batches.Preview(r.Context(), config)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
