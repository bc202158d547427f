package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digiclo/apiserver/types"
	"go.uber.org/zap"
)

var (
	ErrInvalidCategory = errors.New("category must be one of top, bottom, shoe")
	ErrTaggingDisabled = errors.New("tag suggestions are not configured")
)

var categoryAliases = map[string]types.Category{
	"top":      types.CategoryTop,
	"tops":     types.CategoryTop,
	"shirt":    types.CategoryTop,
	"shirts":   types.CategoryTop,
	"t-shirt":  types.CategoryTop,
	"sweater":  types.CategoryTop,
	"jacket":   types.CategoryTop,
	"bottom":   types.CategoryBottom,
	"bottoms":  types.CategoryBottom,
	"pants":    types.CategoryBottom,
	"jeans":    types.CategoryBottom,
	"shorts":   types.CategoryBottom,
	"skirt":    types.CategoryBottom,
	"shoe":     types.CategoryShoe,
	"shoes":    types.CategoryShoe,
	"sneakers": types.CategoryShoe,
	"boots":    types.CategoryShoe,
	"sandals":  types.CategoryShoe,
}

// ClothingRepository defines owner-scoped persistence for clothing items.
type ClothingRepository interface {
	Create(ctx context.Context, item types.ClothingItem) (types.ClothingItem, error)
	ListByOwner(ctx context.Context, userID string) ([]types.ClothingItem, error)
	GetForOwner(ctx context.Context, id, userID string) (types.ClothingItem, error)
	ToggleFavorite(ctx context.Context, id, userID string) (types.ClothingItem, error)
	UpdateTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error)
	FillEmptyTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error)
}

// EventPublisher announces new clothing items.
type EventPublisher interface {
	PublishClothingCreated(ctx context.Context, event types.ClothingCreatedEvent) error
}

// Tagger suggests tags for an image.
type Tagger interface {
	SuggestTags(ctx context.Context, image []byte, topK int) ([]string, error)
}

// ClothingService encapsulates clothing item use-cases.
type ClothingService struct {
	repo      ClothingRepository
	publisher EventPublisher
	tagger    Tagger
	logger    *zap.Logger
}

// NewClothingService constructs the service. publisher and tagger are optional.
func NewClothingService(repo ClothingRepository, publisher EventPublisher, tagger Tagger, logger *zap.Logger) *ClothingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClothingService{
		repo:      repo,
		publisher: publisher,
		tagger:    tagger,
		logger:    logger,
	}
}

// NormalizeCategory maps a client supplied category onto the closed set.
func NormalizeCategory(raw string) (types.Category, error) {
	if category, ok := categoryAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return category, nil
	}
	return "", ErrInvalidCategory
}

// NormalizeTags trims tags and drops empty and repeated ones, keeping the
// first occurrence order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Create stores a new item for its owner and announces it. A failed
// announcement is logged; the item is already persisted.
func (s *ClothingService) Create(ctx context.Context, item types.ClothingItem) (types.ClothingItem, error) {
	category, err := NormalizeCategory(string(item.Category))
	if err != nil {
		return types.ClothingItem{}, err
	}
	item.Category = category
	item.Label = strings.TrimSpace(item.Label)
	item.ImageURL = strings.TrimSpace(item.ImageURL)
	item.Tags = NormalizeTags(item.Tags)

	created, err := s.repo.Create(ctx, item)
	if err != nil {
		return types.ClothingItem{}, err
	}

	if s.publisher != nil {
		event := types.ClothingCreatedEvent{ItemID: created.ID, UserID: created.UserID, ImageURL: created.ImageURL}
		if err := s.publisher.PublishClothingCreated(ctx, event); err != nil {
			s.logger.Warn("publish clothing created", zap.String("item_id", created.ID), zap.Error(err))
		}
	}
	return created, nil
}

func (s *ClothingService) List(ctx context.Context, userID string) ([]types.ClothingItem, error) {
	return s.repo.ListByOwner(ctx, userID)
}

func (s *ClothingService) Get(ctx context.Context, id, userID string) (types.ClothingItem, error) {
	return s.repo.GetForOwner(ctx, id, userID)
}

func (s *ClothingService) ToggleFavorite(ctx context.Context, id, userID string) (types.ClothingItem, error) {
	return s.repo.ToggleFavorite(ctx, id, userID)
}

// UpdateTags replaces the item's tags.
func (s *ClothingService) UpdateTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	return s.repo.UpdateTags(ctx, id, userID, NormalizeTags(tags))
}

// ApplySuggestedTags sets tags only while the item has none, so tags the
// owner typed always win. It returns store.ErrNotFound when the item is gone
// or already tagged.
func (s *ClothingService) ApplySuggestedTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	tags = NormalizeTags(tags)
	if len(tags) == 0 {
		return s.repo.GetForOwner(ctx, id, userID)
	}
	return s.repo.FillEmptyTags(ctx, id, userID, tags)
}

// SuggestTags asks the tagging service about image.
func (s *ClothingService) SuggestTags(ctx context.Context, image []byte) ([]string, error) {
	if s.tagger == nil {
		return nil, ErrTaggingDisabled
	}
	tags, err := s.tagger.SuggestTags(ctx, image, 0)
	if err != nil {
		return nil, fmt.Errorf("suggest tags: %w", err)
	}
	return NormalizeTags(tags), nil
}
