package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/digiclo/apiserver/internal/generation"
	"github.com/digiclo/apiserver/internal/storage"
	"github.com/digiclo/apiserver/types"
	"go.uber.org/zap"
)

var (
	ErrNotEnoughImages  = fmt.Errorf("at least %d reference images are required", generation.MinReferenceImages)
	ErrGenerationOff    = errors.New("image generation is not configured")
	ErrImageNotRehosted = errors.New("generated image could not be stored")
)

// OutfitRepository defines owner-scoped persistence for outfits.
type OutfitRepository interface {
	Create(ctx context.Context, outfit types.Outfit) (types.Outfit, error)
	GetForOwner(ctx context.Context, id, userID string) (types.Outfit, error)
	ListByOwner(ctx context.Context, userID string) ([]types.Outfit, error)
	DeleteForOwner(ctx context.Context, id, userID string) (types.Outfit, error)
}

// ItemLookup resolves a clothing item for its owner.
type ItemLookup interface {
	GetForOwner(ctx context.Context, id, userID string) (types.ClothingItem, error)
}

// ImageGenerator renders composite images.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, images []string) (generation.Result, error)
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// ObjectStore keeps rehosted composite images.
type ObjectStore interface {
	PutImage(ctx context.Context, folder, ext string, data []byte, contentType string) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// OutfitRefs names the three items of an outfit.
type OutfitRefs struct {
	Top    string
	Bottom string
	Shoe   string
}

// OutfitService encapsulates outfit use-cases.
type OutfitService struct {
	repo      OutfitRepository
	items     ItemLookup
	generator ImageGenerator
	objects   ObjectStore
	folder    string
	logger    *zap.Logger
}

// NewOutfitService constructs the service. generator may be nil when no
// generation backend is configured.
func NewOutfitService(
	repo OutfitRepository,
	items ItemLookup,
	generator ImageGenerator,
	objects ObjectStore,
	folder string,
	logger *zap.Logger,
) *OutfitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutfitService{
		repo:      repo,
		items:     items,
		generator: generator,
		objects:   objects,
		folder:    folder,
		logger:    logger,
	}
}

// Create persists an outfit after resolving every referenced item for the
// caller. A reference the caller does not own fails with store.ErrNotFound
// and nothing is written.
func (s *OutfitService) Create(ctx context.Context, userID string, refs OutfitRefs) (types.Outfit, error) {
	outfit, err := s.resolve(ctx, userID, refs)
	if err != nil {
		return types.Outfit{}, err
	}
	return s.repo.Create(ctx, outfit)
}

func (s *OutfitService) List(ctx context.Context, userID string) ([]types.Outfit, error) {
	return s.repo.ListByOwner(ctx, userID)
}

// Delete removes the outfit. Referenced items are kept. A composite image
// this server stored is removed best-effort.
func (s *OutfitService) Delete(ctx context.Context, id, userID string) error {
	deleted, err := s.repo.DeleteForOwner(ctx, id, userID)
	if err != nil {
		return err
	}
	if deleted.ImageKey != "" && s.objects != nil {
		if err := s.objects.Delete(ctx, deleted.ImageKey); err != nil {
			s.logger.Warn("delete outfit image", zap.String("outfit_id", deleted.ID), zap.String("key", deleted.ImageKey), zap.Error(err))
		}
	}
	return nil
}

// GenerateImage renders a composite from at least three reference image URLs.
// Nothing is persisted.
func (s *OutfitService) GenerateImage(ctx context.Context, prompt string, images []string) (generation.Result, error) {
	refs := make([]string, 0, len(images))
	for _, img := range images {
		if img = strings.TrimSpace(img); img != "" {
			refs = append(refs, img)
		}
	}
	if len(refs) < generation.MinReferenceImages {
		return generation.Result{}, ErrNotEnoughImages
	}
	if s.generator == nil {
		return generation.Result{}, ErrGenerationOff
	}
	return s.generator.Generate(ctx, prompt, refs)
}

// Compose resolves the items, renders a composite, copies it into our own
// storage and persists the outfit. Generation failure stores nothing. When
// persisting fails the copied image is deleted again.
func (s *OutfitService) Compose(ctx context.Context, userID string, refs OutfitRefs, prompt string) (types.Outfit, error) {
	if s.generator == nil || s.objects == nil {
		return types.Outfit{}, ErrGenerationOff
	}

	outfit, err := s.resolve(ctx, userID, refs)
	if err != nil {
		return types.Outfit{}, err
	}

	result, err := s.generator.Generate(ctx, prompt, []string{outfit.Top.ImageURL, outfit.Bottom.ImageURL, outfit.Shoe.ImageURL})
	if err != nil {
		return types.Outfit{}, err
	}

	data, contentType, err := s.generator.Fetch(ctx, result.ImageURL)
	if err != nil {
		return types.Outfit{}, fmt.Errorf("%w: %w", ErrImageNotRehosted, err)
	}
	obj, err := s.objects.PutImage(ctx, s.folder, extensionFor(contentType), data, contentType)
	if err != nil {
		return types.Outfit{}, fmt.Errorf("%w: %w", ErrImageNotRehosted, err)
	}

	outfit.Prompt = result.Prompt
	outfit.ImageURL = obj.URL
	outfit.ImageKey = obj.Key

	created, err := s.repo.Create(ctx, outfit)
	if err != nil {
		// The request context may already be done; the cleanup must still run.
		if delErr := s.objects.Delete(context.WithoutCancel(ctx), obj.Key); delErr != nil {
			s.logger.Error("compensating delete of outfit image", zap.String("key", obj.Key), zap.Error(delErr))
		}
		return types.Outfit{}, err
	}
	return created, nil
}

func (s *OutfitService) resolve(ctx context.Context, userID string, refs OutfitRefs) (types.Outfit, error) {
	top, err := s.items.GetForOwner(ctx, refs.Top, userID)
	if err != nil {
		return types.Outfit{}, fmt.Errorf("top: %w", err)
	}
	bottom, err := s.items.GetForOwner(ctx, refs.Bottom, userID)
	if err != nil {
		return types.Outfit{}, fmt.Errorf("bottom: %w", err)
	}
	shoe, err := s.items.GetForOwner(ctx, refs.Shoe, userID)
	if err != nil {
		return types.Outfit{}, fmt.Errorf("shoe: %w", err)
	}
	return types.Outfit{UserID: userID, Top: top, Bottom: bottom, Shoe: shoe}, nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "png"
	}
	switch mediaType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
