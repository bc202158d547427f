package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/digiclo/apiserver/internal/generation"
	"github.com/digiclo/apiserver/internal/ingest"
	"github.com/digiclo/apiserver/internal/logging"
	"github.com/digiclo/apiserver/internal/services"
	"github.com/digiclo/apiserver/internal/store"
	"github.com/digiclo/apiserver/types"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	maxJSONBytes      = 10 << 20
	maxMultipartBytes = 16 << 20
)

type contextKey string

const contextUserKey contextKey = "user"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}

// MessageResponse acknowledges a request that returns no resource.
type MessageResponse struct {
	Message string `json:"message"`
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// userFromContext returns the user loaded by RequireAuth.
func userFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok && user.ID != ""
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid request body")
	}
	return validateRequest(dst)
}

func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.New("invalid request")
	}

	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "email":
		return fmt.Errorf("%s must be a valid email", field)
	case "url", "http_url":
		return fmt.Errorf("%s must be a valid URL", field)
	case "min":
		return fmt.Errorf("%s must have at least %s entries", field, fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}

// Validation messages name fields the way the client spelled them.
func init() {
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// respondError maps domain errors onto the HTTP error taxonomy. Anything not
// recognised is an upstream failure: the detail is logged and the client gets
// the generic message.
func respondError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, notFound, generic string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "user already exists")
	case errors.Is(err, services.ErrUsernameTaken),
		errors.Is(err, services.ErrInvalidCategory),
		errors.Is(err, services.ErrUsernameRequired),
		errors.Is(err, services.ErrBioTooLong),
		errors.Is(err, services.ErrNotEnoughImages):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrUploadFailed),
		errors.Is(err, ingest.ErrInvalidPayload):
		logging.FromRequest(logger, r).Error("image upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image upload failed")
	case errors.Is(err, services.ErrGenerationOff),
		errors.Is(err, services.ErrTaggingDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, generation.ErrGenerationFailed):
		logging.FromRequest(logger, r).Error("generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate image")
	default:
		logging.FromRequest(logger, r).Error(generic, zap.Error(err))
		writeError(w, http.StatusInternalServerError, generic)
	}
}
