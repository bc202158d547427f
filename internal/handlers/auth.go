package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/digiclo/apiserver/internal/ingest"
	"github.com/digiclo/apiserver/internal/logging"
	"github.com/digiclo/apiserver/internal/services"
	"github.com/digiclo/apiserver/internal/storage"
	"github.com/digiclo/apiserver/internal/store"
	"github.com/digiclo/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultTokenTTL = 24 * time.Hour
	formFieldPhoto  = "photo"
)

var (
	errMissingToken = errors.New("missing authorization")
	errInvalidToken = errors.New("invalid authorization")
)

// Ingestor stores an uploaded image and returns its public location.
type Ingestor interface {
	Ingest(ctx context.Context, payload []byte, opts ingest.Options) (storage.Object, error)
}

// AuthHandler provides signup, login and profile endpoints.
type AuthHandler struct {
	users        *services.UserService
	ingestor     Ingestor
	avatarFolder string
	secret       []byte
	tokenTTL     time.Duration
	logger       *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(users *services.UserService, ingestor Ingestor, avatarFolder, jwtSecret string, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		users:        users,
		ingestor:     ingestor,
		avatarFolder: avatarFolder,
		secret:       []byte(jwtSecret),
		tokenTTL:     defaultTokenTTL,
		logger:       logger,
	}
}

// AuthRouter registers auth routes on the given router. limit guards the
// credential endpoints and may be nil.
func AuthRouter(r chi.Router, h *AuthHandler, limit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/me", h.Me)
		r.Put("/update-photo", h.UpdatePhoto)
		r.Put("/update-username", h.UpdateUsername)
		r.Put("/update-bio", h.UpdateBio)
	})
}

// RequireAuth verifies the bearer token, loads its user and stores the user in
// the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromRequest(h.logger, r)

		tokenString, err := bearerToken(r)
		if err != nil {
			if errors.Is(err, errMissingToken) {
				log.Debug("request without token", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "authorization token required")
				return
			}
			log.Debug("malformed authorization header", zap.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		subject, err := parseTokenSubject(tokenString, h.secret)
		if err != nil {
			log.Debug("token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := h.users.GetByID(r.Context(), subject)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Info("token for missing user", zap.String("user_id", subject))
				writeError(w, http.StatusUnauthorized, "user not found")
				return
			}
			log.Error("load token user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load user")
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// Signup creates a new account and returns a token for it.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Register(r.Context(), services.Registration{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		respondError(w, r, h.logger, err, "user not found", "failed to create user")
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, user)
}

// Login verifies credentials and returns a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, r, h.logger, err, "invalid credentials", "failed to authenticate")
		return
	}

	h.respondWithToken(w, r, http.StatusOK, user)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdatePhoto ingests the multipart "photo" file and stores it as the
// profile photo.
func (h *AuthHandler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	file, _, err := r.FormFile(formFieldPhoto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}

	obj, err := h.ingestor.Ingest(r.Context(), data, ingest.Options{Folder: h.avatarFolder})
	if err != nil {
		respondError(w, r, h.logger, err, "user not found", "image upload failed")
		return
	}

	updated, err := h.users.UpdatePhoto(r.Context(), user.ID, obj.URL)
	if err != nil {
		respondError(w, r, h.logger, err, "user not found", "failed to update photo")
		return
	}

	writeJSON(w, http.StatusOK, PhotoResponse{PhotoURL: updated.PhotoURL})
}

func (h *AuthHandler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateUsernameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.users.UpdateUsername(r.Context(), user.ID, req.Username)
	if err != nil {
		respondError(w, r, h.logger, err, "user not found", "failed to update username")
		return
	}

	writeJSON(w, http.StatusOK, UsernameResponse{Username: updated.Username})
}

func (h *AuthHandler) UpdateBio(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateBioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.users.UpdateBio(r.Context(), user.ID, req.Bio)
	if err != nil {
		respondError(w, r, h.logger, err, "user not found", "failed to update bio")
		return
	}

	writeJSON(w, http.StatusOK, BioResponse{Bio: updated.Bio})
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user types.User) {
	token, err := issueToken(user.ID, h.secret, h.tokenTTL)
	if err != nil {
		logging.FromRequest(h.logger, r).Error("sign token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, status, AuthResponse{Token: token, User: user})
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username" validate:"required"`
	PhotoURL string `json:"photoUrl" validate:"omitempty,url"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UpdateUsernameRequest struct {
	Username string `json:"username"`
}

type UpdateBioRequest struct {
	Bio string `json:"bio"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type PhotoResponse struct {
	PhotoURL string `json:"photoUrl"`
}

type UsernameResponse struct {
	Username string `json:"username"`
}

type BioResponse struct {
	Bio string `json:"bio"`
}

func issueToken(userID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errMissingToken
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errInvalidToken
	}
	return token, nil
}
