package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digiclo/apiserver/types"
	"github.com/google/uuid"
)

// ClothingRepository handles persistence for clothing items.
type ClothingRepository struct {
	db *sql.DB
}

func NewClothingRepository(db *sql.DB) *ClothingRepository {
	return &ClothingRepository{db: db}
}

func itemColumns(alias string) string {
	cols := []string{"id", "user_id", "label", "category", "image_url", "tags", "is_favorite", "created_at", "updated_at"}
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

var (
	selectItemByOwner = `SELECT ` + itemColumns("") + ` FROM clothing_items WHERE id = $1 AND user_id = $2`
	listItemsByOwner  = `SELECT ` + itemColumns("") + ` FROM clothing_items WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	toggleFavorite    = `
		UPDATE clothing_items
		SET is_favorite = NOT is_favorite, updated_at = $3
		WHERE id = $1 AND user_id = $2
		RETURNING ` + itemColumns("")
	updateItemTags = `
		UPDATE clothing_items
		SET tags = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
		RETURNING ` + itemColumns("")
	fillEmptyItemTags = `
		UPDATE clothing_items
		SET tags = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2 AND jsonb_array_length(tags) = 0
		RETURNING ` + itemColumns("")
)

func (r *ClothingRepository) Create(ctx context.Context, item types.ClothingItem) (types.ClothingItem, error) {
	now := time.Now().UTC()
	item.ID = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Tags == nil {
		item.Tags = []string{}
	}

	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return types.ClothingItem{}, err
	}

	const query = `
		INSERT INTO clothing_items (id, user_id, label, category, image_url, tags, is_favorite, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		item.ID,
		item.UserID,
		item.Label,
		item.Category,
		item.ImageURL,
		tagsJSON,
		item.IsFavorite,
		item.CreatedAt,
		item.UpdatedAt,
	); err != nil {
		return types.ClothingItem{}, err
	}
	return item, nil
}

// ListByOwner returns the user's items, newest first.
func (r *ClothingRepository) ListByOwner(ctx context.Context, userID string) ([]types.ClothingItem, error) {
	items := make([]types.ClothingItem, 0)
	if !validID(userID) {
		return items, nil
	}

	rows, err := r.db.QueryContext(ctx, listItemsByOwner, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *ClothingRepository) GetForOwner(ctx context.Context, id, userID string) (types.ClothingItem, error) {
	if !validID(id) || !validID(userID) {
		return types.ClothingItem{}, ErrNotFound
	}
	return scanItem(r.db.QueryRowContext(ctx, selectItemByOwner, id, userID))
}

// ToggleFavorite flips the favorite flag in a single statement.
func (r *ClothingRepository) ToggleFavorite(ctx context.Context, id, userID string) (types.ClothingItem, error) {
	if !validID(id) || !validID(userID) {
		return types.ClothingItem{}, ErrNotFound
	}
	return scanItem(r.db.QueryRowContext(ctx, toggleFavorite, id, userID, time.Now().UTC()))
}

func (r *ClothingRepository) UpdateTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	return r.writeTags(ctx, updateItemTags, id, userID, tags)
}

// FillEmptyTags sets tags only when the item has none. ErrNotFound means the
// item is gone or already tagged.
func (r *ClothingRepository) FillEmptyTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	return r.writeTags(ctx, fillEmptyItemTags, id, userID, tags)
}

func (r *ClothingRepository) writeTags(ctx context.Context, query, id, userID string, tags []string) (types.ClothingItem, error) {
	if !validID(id) || !validID(userID) {
		return types.ClothingItem{}, ErrNotFound
	}
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return types.ClothingItem{}, err
	}
	return scanItem(r.db.QueryRowContext(ctx, query, id, userID, tagsJSON, time.Now().UTC()))
}

func itemDest(item *types.ClothingItem, tagsJSON *[]byte) []any {
	return []any{
		&item.ID,
		&item.UserID,
		&item.Label,
		&item.Category,
		&item.ImageURL,
		tagsJSON,
		&item.IsFavorite,
		&item.CreatedAt,
		&item.UpdatedAt,
	}
}

func decodeTags(item *types.ClothingItem, tagsJSON []byte) error {
	if err := json.Unmarshal(tagsJSON, &item.Tags); err != nil {
		return fmt.Errorf("decode tags of item %s: %w", item.ID, err)
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return nil
}

func scanItem(row rowScanner) (types.ClothingItem, error) {
	var item types.ClothingItem
	var tagsJSON []byte
	if err := row.Scan(itemDest(&item, &tagsJSON)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ClothingItem{}, ErrNotFound
		}
		return types.ClothingItem{}, err
	}
	if err := decodeTags(&item, tagsJSON); err != nil {
		return types.ClothingItem{}, err
	}
	return item, nil
}
