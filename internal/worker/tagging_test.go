package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/digiclo/apiserver/internal/mq"
	"github.com/digiclo/apiserver/internal/services"
	"github.com/digiclo/apiserver/internal/store/memstore"
	"github.com/digiclo/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSuggester struct {
	tags []string
	err  error
	got  [][]byte
}

func (s *stubSuggester) SuggestTags(_ context.Context, image []byte, _ int) ([]string, error) {
	s.got = append(s.got, image)
	return s.tags, s.err
}

type memObjects struct {
	prefix  string
	objects map[string][]byte
}

func (m memObjects) KeyFromURL(raw string) (string, bool) {
	if !strings.HasPrefix(raw, m.prefix) {
		return "", false
	}
	return strings.TrimPrefix(raw, m.prefix), true
}

func (m memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type replaySubscriber struct {
	events  []types.ClothingCreatedEvent
	results []error
}

func (r *replaySubscriber) SubscribeClothingCreated(ctx context.Context, handle func(context.Context, types.ClothingCreatedEvent) error) error {
	for _, event := range r.events {
		r.results = append(r.results, handle(ctx, event))
	}
	return context.Canceled
}

func seedItem(t *testing.T, clothing *services.ClothingService, imageURL string, tags []string) types.ClothingItem {
	t.Helper()
	item, err := clothing.Create(context.Background(), types.ClothingItem{
		UserID:   "u1",
		Label:    "Tee",
		Category: types.CategoryTop,
		ImageURL: imageURL,
		Tags:     tags,
	})
	require.NoError(t, err)
	return item
}

func TestHandleTagsUntaggedItemFromStorage(t *testing.T) {
	mem := memstore.New()
	clothing := services.NewClothingService(mem.Clothing(), nil, nil, nil)
	objects := memObjects{prefix: "https://cdn.test/", objects: map[string][]byte{"digiclo-clothes/a.png": []byte("png")}}
	suggester := &stubSuggester{tags: []string{"cotton", "red", "cotton"}}

	item := seedItem(t, clothing, "https://cdn.test/digiclo-clothes/a.png", nil)
	w := NewTagging(clothing, suggester, objects, nil)

	require.NoError(t, w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: item.ID, UserID: "u1", ImageURL: item.ImageURL}))

	got, err := clothing.Get(context.Background(), item.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cotton", "red"}, got.Tags)
	assert.Equal(t, [][]byte{[]byte("png")}, suggester.got)
}

func TestHandleKeepsUserTags(t *testing.T) {
	mem := memstore.New()
	clothing := services.NewClothingService(mem.Clothing(), nil, nil, nil)
	objects := memObjects{prefix: "https://cdn.test/", objects: map[string][]byte{"a.png": []byte("png")}}

	item := seedItem(t, clothing, "https://cdn.test/a.png", []string{"mine"})
	w := NewTagging(clothing, &stubSuggester{tags: []string{"theirs"}}, objects, nil)

	require.NoError(t, w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: item.ID, UserID: "u1", ImageURL: item.ImageURL}))

	got, err := clothing.Get(context.Background(), item.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, got.Tags)
}

func TestHandleDeletedItemIsAcked(t *testing.T) {
	mem := memstore.New()
	clothing := services.NewClothingService(mem.Clothing(), nil, nil, nil)
	objects := memObjects{prefix: "https://cdn.test/", objects: map[string][]byte{"a.png": []byte("png")}}
	w := NewTagging(clothing, &stubSuggester{tags: []string{"x"}}, objects, nil)

	err := w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: "missing", UserID: "u1", ImageURL: "https://cdn.test/a.png"})
	assert.NoError(t, err)
}

func TestHandleDownloadsOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			_, _ = w.Write([]byte("remote"))
		case "/busy.png":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	mem := memstore.New()
	clothing := services.NewClothingService(mem.Clothing(), nil, nil, nil)
	suggester := &stubSuggester{tags: []string{"remote"}}
	w := NewTagging(clothing, suggester, nil, nil)

	item := seedItem(t, clothing, srv.URL+"/ok.png", nil)
	require.NoError(t, w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: item.ID, UserID: "u1", ImageURL: item.ImageURL}))
	assert.Equal(t, [][]byte{[]byte("remote")}, suggester.got)

	err := w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: item.ID, UserID: "u1", ImageURL: srv.URL + "/gone.png"})
	assert.ErrorIs(t, err, mq.ErrDiscard)

	err = w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: item.ID, UserID: "u1", ImageURL: srv.URL + "/busy.png"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, mq.ErrDiscard)
}

func TestHandleTaggerFailureIsRetried(t *testing.T) {
	mem := memstore.New()
	clothing := services.NewClothingService(mem.Clothing(), nil, nil, nil)
	objects := memObjects{prefix: "https://cdn.test/", objects: map[string][]byte{"a.png": []byte("png")}}
	item := seedItem(t, clothing, "https://cdn.test/a.png", nil)

	w := NewTagging(clothing, &stubSuggester{err: errors.New("tagger down")}, objects, nil)
	err := w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: item.ID, UserID: "u1", ImageURL: item.ImageURL})
	require.Error(t, err)
	assert.NotErrorIs(t, err, mq.ErrDiscard)

	got, err := clothing.Get(context.Background(), item.ID, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
}

func TestHandleWithoutImageIsDiscarded(t *testing.T) {
	w := NewTagging(nil, &stubSuggester{}, nil, nil)
	err := w.Handle(context.Background(), types.ClothingCreatedEvent{ItemID: "i", UserID: "u"})
	assert.ErrorIs(t, err, mq.ErrDiscard)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	mem := memstore.New()
	clothing := services.NewClothingService(mem.Clothing(), nil, nil, nil)
	objects := memObjects{prefix: "https://cdn.test/", objects: map[string][]byte{"a.png": []byte("png")}}
	item := seedItem(t, clothing, "https://cdn.test/a.png", nil)

	sub := &replaySubscriber{events: []types.ClothingCreatedEvent{
		{ItemID: item.ID, UserID: "u1", ImageURL: item.ImageURL},
		{ItemID: item.ID, UserID: "u1"},
	}}
	w := NewTagging(clothing, &stubSuggester{tags: []string{"x"}}, objects, nil)

	require.NoError(t, w.Run(context.Background(), sub))
	require.Len(t, sub.results, 2)
	assert.NoError(t, sub.results[0])
	assert.ErrorIs(t, sub.results[1], mq.ErrDiscard)
}
