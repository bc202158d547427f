package handlers

import (
	"net/http"

	"github.com/digiclo/apiserver/internal/ingest"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UploadHandler runs clothing photos through the ingest pipeline.
type UploadHandler struct {
	ingestor Ingestor
	folder   string
	logger   *zap.Logger
}

func NewUploadHandler(ingestor Ingestor, folder string, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{ingestor: ingestor, folder: folder, logger: logger}
}

// UploadRouter registers the upload route. It needs no token: the image is
// stored before any item referencing it exists.
func UploadRouter(r chi.Router, h *UploadHandler) {
	r.Post("/", h.Upload)
}

// Upload accepts {"image": "<base64>"} and answers {"url": ...}.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req ImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := ingest.DecodeBase64(req.Image)
	if err != nil {
		respondError(w, r, h.logger, err, "", "image upload failed")
		return
	}

	obj, err := h.ingestor.Ingest(r.Context(), data, ingest.Options{Folder: h.folder, RemoveBackground: true})
	if err != nil {
		respondError(w, r, h.logger, err, "", "image upload failed")
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{URL: obj.URL})
}

type UploadResponse struct {
	URL string `json:"url"`
}
