// Package worker runs background consumers fed by the message queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/digiclo/apiserver/internal/mq"
	"github.com/digiclo/apiserver/internal/store"
	"github.com/digiclo/apiserver/types"
	"go.uber.org/zap"
)

const maxImageBytes = 16 << 20

// ItemTagger stores suggested tags on an item that has none yet.
type ItemTagger interface {
	ApplySuggestedTags(ctx context.Context, id, userID string, tags []string) (types.ClothingItem, error)
}

// TagSuggester turns an image into tags.
type TagSuggester interface {
	SuggestTags(ctx context.Context, image []byte, topK int) ([]string, error)
}

// ObjectReader reads images this deployment stored itself.
type ObjectReader interface {
	KeyFromURL(raw string) (string, bool)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Subscriber delivers clothing events until ctx is cancelled.
type Subscriber interface {
	SubscribeClothingCreated(ctx context.Context, handle func(context.Context, types.ClothingCreatedEvent) error) error
}

// Tagging fills in tags for newly created clothing items.
type Tagging struct {
	items      ItemTagger
	suggester  TagSuggester
	objects    ObjectReader
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTagging constructs the tagging consumer. objects may be nil, in which
// case every image is downloaded over HTTP.
func NewTagging(items ItemTagger, suggester TagSuggester, objects ObjectReader, logger *zap.Logger) *Tagging {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagging{
		items:      items,
		suggester:  suggester,
		objects:    objects,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Run consumes events until ctx is cancelled.
func (t *Tagging) Run(ctx context.Context, sub Subscriber) error {
	t.logger.Info("tagging worker started")
	err := sub.SubscribeClothingCreated(ctx, t.Handle)
	if errors.Is(err, context.Canceled) {
		t.logger.Info("tagging worker stopped")
		return nil
	}
	return err
}

// Handle tags one item. Returned errors cause redelivery unless they wrap
// mq.ErrDiscard.
func (t *Tagging) Handle(ctx context.Context, event types.ClothingCreatedEvent) error {
	logger := t.logger.With(zap.String("item_id", event.ItemID), zap.String("user_id", event.UserID))

	image, err := t.download(ctx, event.ImageURL)
	if err != nil {
		logger.Warn("download item image failed", zap.String("url", event.ImageURL), zap.Error(err))
		return err
	}

	tags, err := t.suggester.SuggestTags(ctx, image, 0)
	if err != nil {
		logger.Warn("suggest tags failed", zap.Error(err))
		return err
	}

	item, err := t.items.ApplySuggestedTags(ctx, event.ItemID, event.UserID, tags)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Info("item gone or already tagged, skipping")
		return nil
	case err != nil:
		return fmt.Errorf("apply tags: %w", err)
	}

	logger.Info("item tagged", zap.Strings("tags", item.Tags))
	return nil
}

func (t *Tagging) download(ctx context.Context, imageURL string) ([]byte, error) {
	if imageURL == "" {
		return nil, fmt.Errorf("%w: event without image url", mq.ErrDiscard)
	}

	if t.objects != nil {
		if key, ok := t.objects.KeyFromURL(imageURL); ok {
			rc, err := t.objects.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read object %s: %w", key, err)
			}
			defer rc.Close()
			return readLimited(rc)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mq.ErrDiscard, err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: fetch image: %s", mq.ErrDiscard, resp.Status)
	default:
		return nil, fmt.Errorf("fetch image: %s", resp.Status)
	}
	return readLimited(resp.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: image exceeds size limit", mq.ErrDiscard)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", mq.ErrDiscard)
	}
	return data, nil
}
