// Package staging owns uploaded assets and temporary render outputs.
// Every file handed out here is deleted exactly once through Release.
package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/pkg/types"
)

const maxNameAttempts = 5

// Area manages the uploads and staging directories
type Area struct {
	uploadsDir string
	stagingDir string
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.Mutex
	live map[string]struct{} // handed out and not yet released
}

// New creates both directories if needed
func New(uploadsDir, stagingDir string, logger *zap.Logger) (*Area, error) {
	for _, dir := range []string{uploadsDir, stagingDir} {
		if dir == "" {
			return nil, fmt.Errorf("staging directories are required")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return &Area{
		uploadsDir: uploadsDir,
		stagingDir: stagingDir,
		logger:     logger,
		now:        time.Now,
		live:       make(map[string]struct{}),
	}, nil
}

// UploadsDir is served read-only under /static
func (a *Area) UploadsDir() string {
	return a.uploadsDir
}

// StagingDir holds temporary render outputs
func (a *Area) StagingDir() string {
	return a.stagingDir
}

// InUse reports whether path belongs to an asset or output that has not been
// released yet. The cleanup worker skips such files however old they are.
func (a *Area) InUse(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.live[filepath.Clean(path)]
	return ok
}

func (a *Area) track(path string) {
	a.mu.Lock()
	a.live[filepath.Clean(path)] = struct{}{}
	a.mu.Unlock()
}

func (a *Area) untrack(path string) {
	a.mu.Lock()
	delete(a.live, filepath.Clean(path))
	a.mu.Unlock()
}

// releaser deletes one file at most once
type releaser struct {
	path   string
	once   sync.Once
	logger *zap.Logger
	area   *Area
}

func (r *releaser) Release() {
	r.once.Do(func() {
		defer r.area.untrack(r.path)
		if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Failed to delete staged file",
				zap.String("file_path", r.path),
				zap.Error(err))
			return
		}
		r.logger.Debug("Staged file deleted", zap.String("file_path", r.path))
	})
}

// Asset is an uploaded file stored for exactly one render
type Asset struct {
	releaser
	OriginalName   string
	StoredFilename string
	ContentDigest  string
	Size           int64
}

// Path is the absolute location of the stored upload
func (a *Asset) Path() string {
	return a.path
}

// Ref returns the part of the asset that takes part in a render request
func (a *Asset) Ref() *types.StagedAssetRef {
	return &types.StagedAssetRef{
		StoredFilename: a.StoredFilename,
		StoredPath:     a.path,
		ContentDigest:  a.ContentDigest,
	}
}

// StageUpload streams r to <uploads>/<unix-nanos><ext>, hashing it on the way.
// Only the extension of originalName is kept. On error nothing is left on disk.
func (a *Area) StageUpload(originalName string, r io.Reader) (*Asset, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !safeExtension(ext) {
		ext = ""
	}

	f, name, err := a.createUnique(ext)
	if err != nil {
		return nil, err
	}
	a.track(f.Name())

	asset := &Asset{
		releaser:       releaser{path: f.Name(), logger: a.logger, area: a},
		OriginalName:   originalName,
		StoredFilename: name,
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		asset.Release()
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	asset.ContentDigest = hex.EncodeToString(hasher.Sum(nil))
	asset.Size = n

	a.logger.Debug("Upload staged",
		zap.String("original_name", originalName),
		zap.String("stored_filename", name),
		zap.Int64("size_bytes", n))

	return asset, nil
}

// createUnique opens a new upload file named by the current time. The name
// is reserved with O_EXCL and retried on the rare same-nanosecond collision.
func (a *Area) createUnique(ext string) (*os.File, string, error) {
	var lastErr error
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := strconv.FormatInt(a.now().UnixNano()+int64(attempt), 10) + ext
		f, err := os.OpenFile(filepath.Join(a.uploadsDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create upload file: %w", err)
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("failed to reserve upload name: %w", lastErr)
}

// TempOutput is a reserved location the renderer writes to
type TempOutput struct {
	releaser
}

// Path is where the renderer must write its output
func (t *TempOutput) Path() string {
	return t.path
}

// TemporaryOutput reserves <staging>/<uuid>.<ext>. The file itself is not
// created; the renderer creates it. Release deletes whatever exists there.
func (a *Area) TemporaryOutput(format types.OutputFormat) *TempOutput {
	path := filepath.Join(a.stagingDir, uuid.New().String()+"."+format.Extension())
	a.track(path)
	return &TempOutput{releaser: releaser{path: path, logger: a.logger, area: a}}
}

func safeExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 {
		return false
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
