// Package memstore keeps users, clothing items and outfits in process memory.
// It mirrors the owner-scoped semantics of the PostgreSQL and MongoDB
// repositories and backs handler and service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/digiclo/apiserver/internal/store"
	"github.com/digiclo/apiserver/types"
	"github.com/google/uuid"
)

// Store holds all three collections behind one lock.
type Store struct {
	mu      sync.RWMutex
	seq     int64
	users   map[string]types.User
	items   map[string]types.ClothingItem
	outfits map[string]types.Outfit
	order   map[string]int64
	now     func() time.Time
}

func New() *Store {
	return &Store{
		users:   make(map[string]types.User),
		items:   make(map[string]types.ClothingItem),
		outfits: make(map[string]types.Outfit),
		order:   make(map[string]int64),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Users returns the user repository view.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Clothing returns the clothing repository view.
func (s *Store) Clothing() *ClothingRepository { return &ClothingRepository{s: s} }

// Outfits returns the outfit repository view.
func (s *Store) Outfits() *OutfitRepository { return &OutfitRepository{s: s} }

func (s *Store) stamp(id string) {
	s.seq++
	s.order[id] = s.seq
}

// newestFirst sorts by creation time, breaking ties by insertion order.
func (s *Store) newestFirst(ids []string, created func(string) time.Time) {
	sort.SliceStable(ids, func(i, j int) bool {
		ci, cj := created(ids[i]), created(ids[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return s.order[ids[i]] > s.order[ids[j]]
	})
}

type UserRepository struct{ s *Store }

func (r *UserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Email == email })
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r *UserRepository) find(match func(types.User) bool) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, user := range r.s.users {
		if match(user) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
		if existing.Username == user.Username {
			return types.User{}, store.ErrDuplicateUsername
		}
	}
	now := r.s.now()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = user
	r.s.stamp(user.ID)
	return user, nil
}

func (r *UserRepository) UpdateUsername(_ context.Context, id, username string) (types.User, error) {
	return r.update(id, func(u *types.User) error {
		for otherID, other := range r.s.users {
			if otherID != id && other.Username == username {
				return store.ErrDuplicateUsername
			}
		}
		u.Username = username
		return nil
	})
}

func (r *UserRepository) UpdateBio(_ context.Context, id, bio string) (types.User, error) {
	return r.update(id, func(u *types.User) error {
		u.Bio = bio
		return nil
	})
}

func (r *UserRepository) UpdatePhoto(_ context.Context, id, photoURL string) (types.User, error) {
	return r.update(id, func(u *types.User) error {
		u.PhotoURL = photoURL
		return nil
	})
}

func (r *UserRepository) update(id string, mutate func(*types.User) error) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if err := mutate(&user); err != nil {
		return types.User{}, err
	}
	user.UpdatedAt = r.s.now()
	r.s.users[id] = user
	return user, nil
}

type ClothingRepository struct{ s *Store }

func (r *ClothingRepository) Create(_ context.Context, item types.ClothingItem) (types.ClothingItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	item.ID = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Tags == nil {
		item.Tags = []string{}
	}
	r.s.items[item.ID] = item
	r.s.stamp(item.ID)
	return cloneItem(item), nil
}

func (r *ClothingRepository) ListByOwner(_ context.Context, userID string) ([]types.ClothingItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []string
	for id, item := range r.s.items {
		if item.UserID == userID {
			ids = append(ids, id)
		}
	}
	r.s.newestFirst(ids, func(id string) time.Time { return r.s.items[id].CreatedAt })

	items := make([]types.ClothingItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, cloneItem(r.s.items[id]))
	}
	return items, nil
}

func (r *ClothingRepository) GetForOwner(_ context.Context, id, userID string) (types.ClothingItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	item, ok := r.s.items[id]
	if !ok || item.UserID != userID {
		return types.ClothingItem{}, store.ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *ClothingRepository) ToggleFavorite(_ context.Context, id, userID string) (types.ClothingItem, error) {
	return r.update(id, userID, func(item *types.ClothingItem) bool {
		item.IsFavorite = !item.IsFavorite
		return true
	})
}

func (r *ClothingRepository) UpdateTags(_ context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	return r.update(id, userID, func(item *types.ClothingItem) bool {
		item.Tags = append([]string{}, tags...)
		return true
	})
}

func (r *ClothingRepository) FillEmptyTags(_ context.Context, id, userID string, tags []string) (types.ClothingItem, error) {
	return r.update(id, userID, func(item *types.ClothingItem) bool {
		if len(item.Tags) > 0 {
			return false
		}
		item.Tags = append([]string{}, tags...)
		return true
	})
}

func (r *ClothingRepository) update(id, userID string, mutate func(*types.ClothingItem) bool) (types.ClothingItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok || item.UserID != userID || !mutate(&item) {
		return types.ClothingItem{}, store.ErrNotFound
	}
	item.UpdatedAt = r.s.now()
	r.s.items[id] = item
	return cloneItem(item), nil
}

func cloneItem(item types.ClothingItem) types.ClothingItem {
	item.Tags = append([]string{}, item.Tags...)
	return item
}

type OutfitRepository struct{ s *Store }

func (r *OutfitRepository) Create(_ context.Context, outfit types.Outfit) (types.Outfit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ref := range []string{outfit.Top.ID, outfit.Bottom.ID, outfit.Shoe.ID} {
		if _, ok := r.s.items[ref]; !ok {
			return types.Outfit{}, store.ErrNotFound
		}
	}
	now := r.s.now()
	outfit.ID = uuid.NewString()
	outfit.CreatedAt = now
	outfit.UpdatedAt = now
	r.s.outfits[outfit.ID] = outfit
	r.s.stamp(outfit.ID)
	return r.populate(outfit), nil
}

func (r *OutfitRepository) GetForOwner(_ context.Context, id, userID string) (types.Outfit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	outfit, ok := r.s.outfits[id]
	if !ok || outfit.UserID != userID {
		return types.Outfit{}, store.ErrNotFound
	}
	return r.populate(outfit), nil
}

func (r *OutfitRepository) ListByOwner(_ context.Context, userID string) ([]types.Outfit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []string
	for id, outfit := range r.s.outfits {
		if outfit.UserID == userID {
			ids = append(ids, id)
		}
	}
	r.s.newestFirst(ids, func(id string) time.Time { return r.s.outfits[id].CreatedAt })

	outfits := make([]types.Outfit, 0, len(ids))
	for _, id := range ids {
		outfits = append(outfits, r.populate(r.s.outfits[id]))
	}
	return outfits, nil
}

func (r *OutfitRepository) DeleteForOwner(_ context.Context, id, userID string) (types.Outfit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	outfit, ok := r.s.outfits[id]
	if !ok || outfit.UserID != userID {
		return types.Outfit{}, store.ErrNotFound
	}
	delete(r.s.outfits, id)
	return outfit, nil
}

// populate replaces item references with the current item documents.
func (r *OutfitRepository) populate(outfit types.Outfit) types.Outfit {
	outfit.Top = cloneItem(r.s.items[outfit.Top.ID])
	outfit.Bottom = cloneItem(r.s.items[outfit.Bottom.ID])
	outfit.Shoe = cloneItem(r.s.items[outfit.Shoe.ID])
	return outfit
}
