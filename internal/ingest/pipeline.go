// Package ingest turns client-supplied image bytes into a stored,
// publicly fetchable PNG.
//
// A run writes the payload to a private scratch directory, optionally strips
// the background with an external command, downsizes and recompresses the
// result, and uploads it. The scratch directory is removed on every exit path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/digiclo/apiserver/internal/metrics"
	"github.com/digiclo/apiserver/internal/storage"
	"go.uber.org/zap"
)

// ErrUploadFailed is the single failure signal surfaced to callers. The
// failing stage is wrapped inside it.
var ErrUploadFailed = errors.New("image upload failed")

const (
	scratchPrefix   = "ingest-"
	sourceName      = "source"
	noBackgroundExt = "nobg.png"
	outputMIME      = "image/png"
	outputExt       = "png"
)

// Uploader stores the final image bytes.
type Uploader interface {
	PutImage(ctx context.Context, folder, ext string, data []byte, contentType string) (storage.Object, error)
}

// Options selects the stages for one run.
type Options struct {
	// Folder is the object storage folder the image is stored under.
	Folder string
	// RemoveBackground runs the background remover when one is configured.
	RemoveBackground bool
}

// Config holds the fixed pipeline settings.
type Config struct {
	ScratchDir string
	MaxWidth   int
	// MaxPixels caps width*height of accepted images. Zero means
	// DefaultMaxPixels.
	MaxPixels int
}

// Pipeline runs the ingest stages. It holds no per-request state and is safe
// for concurrent use.
type Pipeline struct {
	uploader   Uploader
	remover    BackgroundRemover
	scratchDir string
	maxWidth   int
	maxPixels  int
	logger     *zap.Logger
}

// NewPipeline constructs a Pipeline. A nil remover disables background removal.
func NewPipeline(uploader Uploader, remover BackgroundRemover, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	scratchDir := cfg.ScratchDir
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Pipeline{
		uploader:   uploader,
		remover:    remover,
		scratchDir: scratchDir,
		maxWidth:   cfg.MaxWidth,
		maxPixels:  maxPixels,
		logger:     logger,
	}
}

// Ingest stores payload and returns its public location. Any stage failure
// yields an error wrapping ErrUploadFailed and no object.
func (p *Pipeline) Ingest(ctx context.Context, payload []byte, opts Options) (storage.Object, error) {
	obj, err := p.run(ctx, payload, opts)
	metrics.ObserveIngest(err)
	if err != nil {
		p.logger.Warn("ingest failed", zap.String("folder", opts.Folder), zap.Error(err))
		return storage.Object{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	p.logger.Debug("ingest stored image", zap.String("key", obj.Key))
	return obj, nil
}

func (p *Pipeline) run(ctx context.Context, payload []byte, opts Options) (storage.Object, error) {
	if len(payload) == 0 {
		return storage.Object{}, errors.New("empty payload")
	}

	if err := os.MkdirAll(p.scratchDir, 0o700); err != nil {
		return storage.Object{}, fmt.Errorf("prepare scratch dir: %w", err)
	}
	workDir, err := os.MkdirTemp(p.scratchDir, scratchPrefix)
	if err != nil {
		return storage.Object{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.logger.Warn("remove scratch dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	source := filepath.Join(workDir, sourceName)
	if err := os.WriteFile(source, payload, 0o600); err != nil {
		return storage.Object{}, fmt.Errorf("write payload: %w", err)
	}

	if err := CheckDimensions(source, p.maxPixels); err != nil {
		return storage.Object{}, err
	}

	if opts.RemoveBackground && p.remover != nil {
		output := filepath.Join(workDir, noBackgroundExt)
		if err := p.remover.Remove(ctx, source, output); err != nil {
			return storage.Object{}, fmt.Errorf("remove background: %w", err)
		}
		source = output
	}

	compressed, err := CompressFile(source, p.maxWidth, p.maxPixels)
	if err != nil {
		return storage.Object{}, fmt.Errorf("compress: %w", err)
	}

	obj, err := p.uploader.PutImage(ctx, opts.Folder, outputExt, compressed, outputMIME)
	if err != nil {
		return storage.Object{}, fmt.Errorf("upload: %w", err)
	}
	return obj, nil
}
