package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/digiclo/apiserver/types"
	"github.com/google/uuid"
)

// OutfitRepository handles persistence for outfits.
type OutfitRepository struct {
	db *sql.DB
}

func NewOutfitRepository(db *sql.DB) *OutfitRepository {
	return &OutfitRepository{db: db}
}

var selectPopulatedOutfits = `
	SELECT o.id, o.user_id, o.prompt, o.image_url, o.image_key, o.created_at, o.updated_at,
		` + itemColumns("t") + `,
		` + itemColumns("b") + `,
		` + itemColumns("s") + `
	FROM outfits o
	JOIN clothing_items t ON t.id = o.top_id
	JOIN clothing_items b ON b.id = o.bottom_id
	JOIN clothing_items s ON s.id = o.shoe_id`

var (
	selectOutfitByOwner = selectPopulatedOutfits + ` WHERE o.id = $1 AND o.user_id = $2`
	listOutfitsByOwner  = selectPopulatedOutfits + ` WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id DESC`
)

// Create persists the outfit and returns it populated with its items.
// Only the IDs of Top, Bottom and Shoe are read.
func (r *OutfitRepository) Create(ctx context.Context, outfit types.Outfit) (types.Outfit, error) {
	now := time.Now().UTC()
	outfit.ID = uuid.NewString()
	outfit.CreatedAt = now
	outfit.UpdatedAt = now

	const query = `
		INSERT INTO outfits (id, user_id, top_id, bottom_id, shoe_id, prompt, image_url, image_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		outfit.ID,
		outfit.UserID,
		outfit.Top.ID,
		outfit.Bottom.ID,
		outfit.Shoe.ID,
		outfit.Prompt,
		outfit.ImageURL,
		outfit.ImageKey,
		outfit.CreatedAt,
		outfit.UpdatedAt,
	); err != nil {
		return types.Outfit{}, err
	}

	return r.GetForOwner(ctx, outfit.ID, outfit.UserID)
}

func (r *OutfitRepository) GetForOwner(ctx context.Context, id, userID string) (types.Outfit, error) {
	if !validID(id) || !validID(userID) {
		return types.Outfit{}, ErrNotFound
	}
	return scanOutfit(r.db.QueryRowContext(ctx, selectOutfitByOwner, id, userID))
}

// ListByOwner returns the user's outfits populated with their items, newest first.
func (r *OutfitRepository) ListByOwner(ctx context.Context, userID string) ([]types.Outfit, error) {
	outfits := make([]types.Outfit, 0)
	if !validID(userID) {
		return outfits, nil
	}

	rows, err := r.db.QueryContext(ctx, listOutfitsByOwner, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		outfit, err := scanOutfit(rows)
		if err != nil {
			return nil, err
		}
		outfits = append(outfits, outfit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return outfits, nil
}

// DeleteForOwner removes the outfit and returns the deleted row. Referenced
// clothing items are left untouched.
func (r *OutfitRepository) DeleteForOwner(ctx context.Context, id, userID string) (types.Outfit, error) {
	if !validID(id) || !validID(userID) {
		return types.Outfit{}, ErrNotFound
	}

	const query = `
		DELETE FROM outfits
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, top_id, bottom_id, shoe_id, prompt, image_url, image_key, created_at, updated_at`
	var outfit types.Outfit
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&outfit.ID,
		&outfit.UserID,
		&outfit.Top.ID,
		&outfit.Bottom.ID,
		&outfit.Shoe.ID,
		&outfit.Prompt,
		&outfit.ImageURL,
		&outfit.ImageKey,
		&outfit.CreatedAt,
		&outfit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Outfit{}, ErrNotFound
		}
		return types.Outfit{}, err
	}
	return outfit, nil
}

func scanOutfit(row rowScanner) (types.Outfit, error) {
	var outfit types.Outfit
	var topTags, bottomTags, shoeTags []byte

	dest := []any{
		&outfit.ID,
		&outfit.UserID,
		&outfit.Prompt,
		&outfit.ImageURL,
		&outfit.ImageKey,
		&outfit.CreatedAt,
		&outfit.UpdatedAt,
	}
	dest = append(dest, itemDest(&outfit.Top, &topTags)...)
	dest = append(dest, itemDest(&outfit.Bottom, &bottomTags)...)
	dest = append(dest, itemDest(&outfit.Shoe, &shoeTags)...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Outfit{}, ErrNotFound
		}
		return types.Outfit{}, err
	}

	for _, slot := range []struct {
		item *types.ClothingItem
		tags []byte
	}{
		{&outfit.Top, topTags},
		{&outfit.Bottom, bottomTags},
		{&outfit.Shoe, shoeTags},
	} {
		if err := decodeTags(slot.item, slot.tags); err != nil {
			return types.Outfit{}, err
		}
	}
	return outfit, nil
}
