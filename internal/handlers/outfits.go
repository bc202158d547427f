package handlers

import (
	"net/http"

	"github.com/digiclo/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const outfitNotFound = "outfit not found"

// OutfitsHandler provides outfit endpoints, including composite generation.
type OutfitsHandler struct {
	outfits *services.OutfitService
	logger  *zap.Logger
}

func NewOutfitsHandler(outfits *services.OutfitService, logger *zap.Logger) *OutfitsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutfitsHandler{outfits: outfits, logger: logger}
}

// OutfitRouter registers outfit routes. Every route requires auth.
func OutfitRouter(r chi.Router, h *OutfitsHandler, auth func(http.Handler) http.Handler) {
	r.Use(auth)

	r.Get("/", h.ListOutfits)
	r.Post("/", h.CreateOutfit)
	r.Post("/generate-image", h.GenerateImage)
	r.Post("/compose", h.Compose)
	r.Delete("/{id}", h.DeleteOutfit)
}

func (h *OutfitsHandler) CreateOutfit(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req CreateOutfitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outfit, err := h.outfits.Create(r.Context(), user.ID, req.refs())
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not save outfit")
		return
	}
	writeJSON(w, http.StatusCreated, outfit)
}

func (h *OutfitsHandler) ListOutfits(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	outfits, err := h.outfits.List(r.Context(), user.ID)
	if err != nil {
		respondError(w, r, h.logger, err, outfitNotFound, "could not fetch outfits")
		return
	}
	writeJSON(w, http.StatusOK, outfits)
}

func (h *OutfitsHandler) DeleteOutfit(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	if err := h.outfits.Delete(r.Context(), chi.URLParam(r, "id"), user.ID); err != nil {
		respondError(w, r, h.logger, err, outfitNotFound, "could not delete outfit")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "outfit deleted"})
}

// GenerateImage renders a composite preview without persisting anything.
func (h *OutfitsHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req GenerateImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.outfits.GenerateImage(r.Context(), req.Prompt, req.Images)
	if err != nil {
		respondError(w, r, h.logger, err, outfitNotFound, "failed to generate image")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Compose generates a composite for three owned items and saves the outfit.
func (h *OutfitsHandler) Compose(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req ComposeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outfit, err := h.outfits.Compose(r.Context(), user.ID, req.CreateOutfitRequest.refs(), req.Prompt)
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not compose outfit")
		return
	}
	writeJSON(w, http.StatusCreated, outfit)
}

type CreateOutfitRequest struct {
	Top    string `json:"top" validate:"required"`
	Bottom string `json:"bottom" validate:"required"`
	Shoe   string `json:"shoe" validate:"required"`
}

func (req CreateOutfitRequest) refs() services.OutfitRefs {
	return services.OutfitRefs{Top: req.Top, Bottom: req.Bottom, Shoe: req.Shoe}
}

type ComposeRequest struct {
	CreateOutfitRequest
	Prompt string `json:"prompt"`
}

type GenerateImageRequest struct {
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
}
