package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/digiclo/apiserver/internal/ingest"
	"github.com/digiclo/apiserver/internal/services"
	"github.com/digiclo/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const itemNotFound = "item not found"

// ClothesHandler provides owner-scoped clothing item endpoints.
type ClothesHandler struct {
	clothing *services.ClothingService
	logger   *zap.Logger
}

func NewClothesHandler(clothing *services.ClothingService, logger *zap.Logger) *ClothesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClothesHandler{clothing: clothing, logger: logger}
}

// ClothesRouter registers clothing routes. Every route requires auth.
func ClothesRouter(r chi.Router, h *ClothesHandler, auth func(http.Handler) http.Handler) {
	r.Use(auth)

	r.Get("/", h.ListItems)
	r.Post("/", h.CreateItem)
	r.Post("/suggest-tags", h.SuggestTags)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.GetItem)
		r.Patch("/", h.UpdateTags)
		r.Patch("/favorite", h.ToggleFavorite)
	})
}

func (h *ClothesHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req CreateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.clothing.Create(r.Context(), types.ClothingItem{
		UserID:     user.ID,
		Label:      req.Label,
		Category:   types.Category(req.Category),
		ImageURL:   req.ImageURL,
		Tags:       req.Tags,
		IsFavorite: req.IsFavorite,
	})
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not save item")
		return
	}

	writeJSON(w, http.StatusCreated, item)
}

func (h *ClothesHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	items, err := h.clothing.List(r.Context(), user.ID)
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not fetch items")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ClothesHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	item, err := h.clothing.Get(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not fetch item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ClothesHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	item, err := h.clothing.ToggleFavorite(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not update favorite status")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateTags replaces the item's tags. The body must carry "tags" as a JSON
// array of strings.
func (h *ClothesHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !gjson.ValidBytes(body) || !gjson.GetBytes(body, "tags").IsArray() {
		writeError(w, http.StatusBadRequest, "tags must be an array")
		return
	}

	var req UpdateTagsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "tags must be an array of strings")
		return
	}

	item, err := h.clothing.UpdateTags(r.Context(), chi.URLParam(r, "id"), user.ID, req.Tags)
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not update item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// SuggestTags asks the tagging service for tags describing a base64 image.
func (h *ClothesHandler) SuggestTags(w http.ResponseWriter, r *http.Request) {
	var req ImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := ingest.DecodeBase64(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}

	tags, err := h.clothing.SuggestTags(r.Context(), data)
	if err != nil {
		respondError(w, r, h.logger, err, itemNotFound, "could not suggest tags")
		return
	}
	writeJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}

type CreateItemRequest struct {
	Label      string   `json:"label" validate:"required"`
	Category   string   `json:"category" validate:"required"`
	ImageURL   string   `json:"imageUrl" validate:"required"`
	Tags       []string `json:"tags"`
	IsFavorite bool     `json:"isFavorite"`
}

type UpdateTagsRequest struct {
	Tags []string `json:"tags"`
}

type ImageRequest struct {
	Image string `json:"image" validate:"required"`
}

type TagsResponse struct {
	Tags []string `json:"tags"`
}
