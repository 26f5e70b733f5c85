package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/http/middleware"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type createBatchRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Config      domain.SelectionConfig `json:"config"`
	Preview     *domain.Preview        `json:"preview,omitempty"`
}

type batchListResponse struct {
	Batches  []domain.Batch `json:"batches"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type itemListResponse struct {
	Items []domain.QueueItem `json:"items"`
}

func (api *API) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var request createBatchRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid batch payload")
		return
	}

	batch, err := api.batches.CreateBatch(r.Context(), middleware.GetActor(r.Context()), service.CreateBatchInput{
		Name:        request.Name,
		Description: request.Description,
		Config:      request.Config,
		Preview:     request.Preview,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (api *API) ListBatches(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "page must be a non-negative integer")
		return
	}
	pageSize, err := queryInt(r, "page_size", defaultPageSize)
	if err != nil || pageSize > maxPageSize {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "page_size must be between 1 and 100")
		return
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	filter := domain.BatchListFilter{
		Status:   domain.BatchStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Page:     max(page, 1),
		PageSize: pageSize,
	}
	batches, total, err := api.batches.ListBatches(r.Context(), middleware.GetActor(r.Context()), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchListResponse{
		Batches:  batches,
		Total:    total,
		Page:     filter.Page,
		PageSize: pageSize,
	})
}

func (api *API) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := api.batches.OwnedBatch(r.Context(), middleware.GetActor(r.Context()), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// owned writes the error response and reports false unless the caller created
// the batch named in the path.
func (api *API) owned(w http.ResponseWriter, r *http.Request) bool {
	if _, err := api.batches.OwnedBatch(r.Context(), middleware.GetActor(r.Context()), r.PathValue("id")); err != nil {
		api.writeServiceError(w, r, err)
		return false
	}
	return true
}

func (api *API) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	if !api.owned(w, r) {
		return
	}
	if err := api.batches.DeleteBatch(r.Context(), r.PathValue("id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) StartBatch(w http.ResponseWriter, r *http.Request) {
	api.transition(w, r, api.batches.Start)
}

func (api *API) PauseBatch(w http.ResponseWriter, r *http.Request) {
	api.transition(w, r, api.batches.Pause)
}

func (api *API) StopBatch(w http.ResponseWriter, r *http.Request) {
	api.transition(w, r, api.batches.Stop)
}

func (api *API) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, batchID string) (*domain.Batch, error),
) {
	if !api.owned(w, r) {
		return
	}
	batch, err := apply(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, batch)
}

func (api *API) BatchProgress(w http.ResponseWriter, r *http.Request) {
	if !api.owned(w, r) {
		return
	}
	progress, err := api.batches.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (api *API) BatchItems(w http.ResponseWriter, r *http.Request) {
	if !api.owned(w, r) {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
		return
	}

	items, err := api.batches.ListItems(r.Context(), r.PathValue("id"), domain.ItemListFilter{
		Status: domain.ItemStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemListResponse{Items: items})
}
