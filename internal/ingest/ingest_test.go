package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/digiclo/apiserver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu      sync.Mutex
	uploads map[string][]byte
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{uploads: make(map[string][]byte)}
}

func (f *fakeUploader) PutImage(_ context.Context, folder, ext string, data []byte, _ string) (storage.Object, error) {
	if f.err != nil {
		return storage.Object{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := storage.NewKey(folder, ext)
	f.uploads[key] = append([]byte(nil), data...)
	return storage.Object{Key: key, URL: "https://cdn.test/" + key}, nil
}

type fakeRemover struct {
	calls int
	err   error
}

// Remove writes a solid 10x10 image so the pipeline sees a fresh file.
func (f *fakeRemover) Remove(_ context.Context, _, output string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(output, encodePNG(solidImage(10, 10)), 0o600)
}

func solidImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 90, A: 255})
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// withDeclaredSize rewrites the IHDR chunk of a PNG so its header claims
// width x height while the pixel data stays tiny.
func withDeclaredSize(data []byte, width, height uint32) []byte {
	out := append([]byte(nil), data...)
	// signature(8) length(4) "IHDR"(4) then width and height.
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func scratchEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestIngestResizesWideImages(t *testing.T) {
	scratch := t.TempDir()
	uploader := newFakeUploader()
	p := NewPipeline(uploader, nil, Config{ScratchDir: scratch, MaxWidth: 1000}, nil)

	obj, err := p.Ingest(context.Background(), encodePNG(solidImage(2000, 1000)), Options{Folder: "digiclo-clothes"})
	require.NoError(t, err)
	assert.Contains(t, obj.Key, "digiclo-clothes/")
	assert.Equal(t, "https://cdn.test/"+obj.Key, obj.URL)

	stored, err := png.Decode(bytes.NewReader(uploader.uploads[obj.Key]))
	require.NoError(t, err)
	assert.Equal(t, 1000, stored.Bounds().Dx())
	assert.Equal(t, 500, stored.Bounds().Dy())

	assert.Empty(t, scratchEntries(t, scratch))
}

func TestIngestKeepsNarrowImages(t *testing.T) {
	scratch := t.TempDir()
	uploader := newFakeUploader()
	p := NewPipeline(uploader, nil, Config{ScratchDir: scratch, MaxWidth: 1000}, nil)

	obj, err := p.Ingest(context.Background(), encodePNG(solidImage(300, 400)), Options{Folder: "f"})
	require.NoError(t, err)

	stored, err := png.Decode(bytes.NewReader(uploader.uploads[obj.Key]))
	require.NoError(t, err)
	assert.Equal(t, 300, stored.Bounds().Dx())
	assert.Equal(t, 400, stored.Bounds().Dy())
}

func TestIngestUndecodablePayloadUploadsNothing(t *testing.T) {
	scratch := t.TempDir()
	uploader := newFakeUploader()
	p := NewPipeline(uploader, nil, Config{ScratchDir: scratch, MaxWidth: 1000}, nil)

	_, err := p.Ingest(context.Background(), []byte("definitely not an image"), Options{Folder: "f"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Empty(t, uploader.uploads)
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestIngestRejectsOversizedDimensions(t *testing.T) {
	scratch := t.TempDir()
	uploader := newFakeUploader()
	remover := &fakeRemover{}
	p := NewPipeline(uploader, remover, Config{ScratchDir: scratch, MaxWidth: 1000}, nil)

	payload := withDeclaredSize(encodePNG(solidImage(1, 1)), 20000, 20000)
	_, err := p.Ingest(context.Background(), payload, Options{Folder: "f", RemoveBackground: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, errImageTooLarge)
	assert.Zero(t, remover.calls)
	assert.Empty(t, uploader.uploads)
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestIngestHonoursConfiguredPixelBudget(t *testing.T) {
	uploader := newFakeUploader()
	p := NewPipeline(uploader, nil, Config{ScratchDir: t.TempDir(), MaxPixels: 100}, nil)

	_, err := p.Ingest(context.Background(), encodePNG(solidImage(10, 10)), Options{Folder: "f"})
	require.NoError(t, err)

	_, err = p.Ingest(context.Background(), encodePNG(solidImage(11, 10)), Options{Folder: "f"})
	assert.ErrorIs(t, err, errImageTooLarge)
	assert.Len(t, uploader.uploads, 1)
}

func TestCompressFileChecksHeaderBeforeDecoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.png")
	require.NoError(t, os.WriteFile(path, withDeclaredSize(encodePNG(solidImage(1, 1)), 50000, 50000), 0o600))

	_, err := CompressFile(path, 1000, DefaultMaxPixels)
	assert.ErrorIs(t, err, errImageTooLarge)
}

func TestIngestEmptyPayload(t *testing.T) {
	p := NewPipeline(newFakeUploader(), nil, Config{ScratchDir: t.TempDir()}, nil)

	_, err := p.Ingest(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrUploadFailed)
}

func TestIngestUploadFailure(t *testing.T) {
	scratch := t.TempDir()
	uploader := newFakeUploader()
	uploader.err = errors.New("bucket unavailable")
	p := NewPipeline(uploader, nil, Config{ScratchDir: scratch, MaxWidth: 1000}, nil)

	_, err := p.Ingest(context.Background(), encodePNG(solidImage(20, 20)), Options{Folder: "f"})
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestIngestBackgroundRemoval(t *testing.T) {
	uploader := newFakeUploader()
	remover := &fakeRemover{}
	p := NewPipeline(uploader, remover, Config{ScratchDir: t.TempDir(), MaxWidth: 1000}, nil)

	obj, err := p.Ingest(context.Background(), encodePNG(solidImage(50, 50)), Options{Folder: "f", RemoveBackground: true})
	require.NoError(t, err)
	assert.Equal(t, 1, remover.calls)

	stored, err := png.Decode(bytes.NewReader(uploader.uploads[obj.Key]))
	require.NoError(t, err)
	assert.Equal(t, 10, stored.Bounds().Dx())

	_, err = p.Ingest(context.Background(), encodePNG(solidImage(50, 50)), Options{Folder: "f"})
	require.NoError(t, err)
	assert.Equal(t, 1, remover.calls, "remover runs only when requested")
}

func TestIngestBackgroundRemovalFailure(t *testing.T) {
	scratch := t.TempDir()
	uploader := newFakeUploader()
	p := NewPipeline(uploader, &fakeRemover{err: errors.New("model crashed")}, Config{ScratchDir: scratch}, nil)

	_, err := p.Ingest(context.Background(), encodePNG(solidImage(50, 50)), Options{Folder: "f", RemoveBackground: true})
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Empty(t, uploader.uploads)
	assert.Empty(t, scratchEntries(t, scratch))
}

func TestIngestConcurrentRunsDoNotCollide(t *testing.T) {
	uploader := newFakeUploader()
	p := NewPipeline(uploader, nil, Config{ScratchDir: t.TempDir(), MaxWidth: 1000}, nil)

	const runs = 8
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(size int) {
			defer wg.Done()
			_, err := p.Ingest(context.Background(), encodePNG(solidImage(size, size)), Options{Folder: "f"})
			errs <- err
		}(10 + i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, uploader.uploads, runs)
}

func TestResizeKeepsAspectRatio(t *testing.T) {
	out := Resize(solidImage(3000, 1200), 1000)
	assert.Equal(t, 1000, out.Bounds().Dx())
	assert.Equal(t, 400, out.Bounds().Dy())

	src := solidImage(800, 10)
	assert.Same(t, src, Resize(src, 1000))
	assert.Same(t, src, Resize(src, 0))
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte("hello image")
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeBase64("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeBase64(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	for _, bad := range []string{"", "data:image/png;base64,", "data:image/png," + enc, "%%%not-base64%%%"} {
		_, err := DecodeBase64(bad)
		assert.ErrorIs(t, err, ErrInvalidPayload, bad)
	}
}

func TestSweepRemovesOnlyStaleRuns(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	stale := filepath.Join(dir, scratchPrefix+"stale")
	fresh := filepath.Join(dir, scratchPrefix+"fresh")
	other := filepath.Join(dir, "keep-me")
	for _, d := range []string{stale, fresh, other} {
		require.NoError(t, os.Mkdir(d, 0o700))
	}
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	removed, err := Sweep(dir, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}

func TestSweepMissingDir(t *testing.T) {
	removed, err := Sweep(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewCommandRemover(t *testing.T) {
	assert.Nil(t, NewCommandRemover("   "))

	r := NewCommandRemover("python3 remove_bg.py --alpha")
	require.NotNil(t, r)
	assert.Equal(t, "python3", r.name)
	assert.Equal(t, []string{"remove_bg.py", "--alpha"}, r.args)
}
