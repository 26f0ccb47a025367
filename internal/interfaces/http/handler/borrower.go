package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"credit-decision-service/internal/domain/feature"
)

// BorrowerHandler handles borrower-related HTTP requests
type BorrowerHandler struct {
	store  feature.Store
	cache  feature.Cache
	logger *zap.Logger
}

// NewBorrowerHandler creates a new borrower handler. cache may be nil.
func NewBorrowerHandler(store feature.Store, cache feature.Cache, logger *zap.Logger) *BorrowerHandler {
	return &BorrowerHandler{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// GetFeatures handles GET /api/v1/borrowers/{id}/features
func (h *BorrowerHandler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid borrower ID")
		return
	}

	featureSet := r.URL.Query().Get("feature_set")
	if featureSet == "" {
		featureSet = feature.SetCoreBehavioral
	}

	if h.cache != nil {
		if v, err := h.cache.GetLatest(r.Context(), id, featureSet); err == nil {
			writeJSON(w, http.StatusOK, v)
			return
		} else if !errors.Is(err, feature.ErrNoFeatures) {
			h.logger.Warn("feature cache read failed, falling back to store",
				zap.String("borrower_id", id.String()),
				zap.Error(err))
		}
	}

	v, err := h.store.GetLatest(r.Context(), id, featureSet)
	if err != nil {
		if errors.Is(err, feature.ErrNoFeatures) {
			writeError(w, http.StatusNotFound, "No features computed for borrower")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get features: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, v)
}
