// Package artifact persists generated files in per-conversation directories,
// each binary paired with a JSON sidecar holding its metadata.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolmesh/internal/domain"
	"toolmesh/internal/infra/hashutil"
	"toolmesh/internal/infra/identity"
	"toolmesh/internal/infra/telemetry"
	"toolmesh/internal/infra/workpool"
)

const (
	sidecarSuffix   = ".json"
	maxPrefixLength = 30
	maxSaveAttempts = 5
)

// Options configures a Store.
type Options struct {
	Root      string
	Kind      domain.ArtifactKind
	Extension string
	Pool      *workpool.Pool
	Logger    *zap.Logger
	Metrics   domain.Metrics
	Now       func() time.Time
}

// SaveRequest carries one generated artifact.
type SaveRequest struct {
	// Prefix starts the filename; it is slugged and defaults to the store kind.
	Prefix string
	Data   []byte
	// HashInput is hashed into the filename and record for traceability.
	HashInput any
	// Params is stored in the sidecar. Numbers read back as json.Number so
	// integers keep their exact text.
	Params map[string]any
}

// Store is a conversation partitioned artifact store rooted at one directory.
type Store struct {
	root      string
	kind      domain.ArtifactKind
	extension string
	pool      *workpool.Pool
	logger    *zap.Logger
	metrics   domain.Metrics
	now       func() time.Time
}

// NewStore creates the root directory if needed and returns a store over it.
func NewStore(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("artifact root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure artifact root: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ext := opts.Extension
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	kind := opts.Kind
	if kind == "" {
		kind = "artifact"
	}
	return &Store{
		root:      root,
		kind:      kind,
		extension: ext,
		pool:      opts.Pool,
		logger:    logger.Named("artifact_store").With(zap.String("kind", string(kind))),
		metrics:   metrics,
		now:       now,
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Kind() domain.ArtifactKind {
	return s.kind
}

// ConversationDir returns the directory holding a conversation's artifacts.
func (s *Store) ConversationDir(conversationID string) string {
	return filepath.Join(s.root, identity.Resolve(conversationID))
}

// Save writes the binary first and then its sidecar. A failed sidecar write
// removes the binary again.
func (s *Store) Save(ctx context.Context, conversationID string, req SaveRequest) (string, domain.ArtifactRecord, error) {
	type saved struct {
		path   string
		record domain.ArtifactRecord
	}
	res, err := workpool.Do(ctx, s.pool, func() (saved, error) {
		path, record, err := s.save(conversationID, req)
		return saved{path: path, record: record}, err
	})
	s.metrics.ObserveArtifact(s.kind, "save", err)
	if err != nil {
		return "", domain.ArtifactRecord{}, domain.WrapContext(domain.CodeInternal, "artifact.save", err)
	}
	return res.path, res.record, nil
}

func (s *Store) save(conversationID string, req SaveRequest) (string, domain.ArtifactRecord, error) {
	convID := identity.Resolve(conversationID)
	dir := filepath.Join(s.root, convID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.ArtifactRecord{}, fmt.Errorf("ensure conversation dir: %w", err)
	}

	hashInput := req.HashInput
	if hashInput == nil {
		hashInput = req.Data
	}
	inputHash := hashutil.InputHash(s.logger, hashInput)
	createdAt := s.now().UTC()

	var (
		filename string
		path     string
	)
	for attempt := 0; ; attempt++ {
		nonce, err := newNonce()
		if err != nil {
			return "", domain.ArtifactRecord{}, err
		}
		filename = s.filename(req.Prefix, createdAt, inputHash, nonce)
		path = filepath.Join(dir, filename)
		err = writeExclusive(path, req.Data)
		if err == nil {
			break
		}
		if errors.Is(err, fs.ErrExist) && attempt+1 < maxSaveAttempts {
			continue
		}
		return "", domain.ArtifactRecord{}, fmt.Errorf("write artifact: %w", err)
	}

	record := domain.ArtifactRecord{
		LocalPath:      path,
		Filename:       filename,
		ConversationID: convID,
		Kind:           s.kind,
		InputHash:      inputHash,
		Params:         req.Params,
		SizeBytes:      int64(len(req.Data)),
		CreatedAt:      createdAt,
	}
	if err := writeSidecar(path+sidecarSuffix, record); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("remove artifact after sidecar failure", zap.String("path", path), zap.Error(rmErr))
		}
		return "", domain.ArtifactRecord{}, fmt.Errorf("write sidecar: %w", err)
	}

	s.logger.Debug("artifact saved",
		telemetry.EventField(telemetry.EventArtifactSaved),
		telemetry.ConversationField(convID),
		zap.String("filename", filename),
		zap.Int("bytes", len(req.Data)),
	)
	return path, record, nil
}

// List returns the newest records of a conversation, skipping sidecars that
// are unreadable or whose binary is gone.
func (s *Store) List(ctx context.Context, conversationID string, limit int) ([]domain.ArtifactRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultListLimit
	}
	records, err := workpool.Do(ctx, s.pool, func() ([]domain.ArtifactRecord, error) {
		return s.list(conversationID, limit)
	})
	s.metrics.ObserveArtifact(s.kind, "list", err)
	if err != nil {
		return nil, domain.WrapContext(domain.CodeInternal, "artifact.list", err)
	}
	return records, nil
}

type sidecarEntry struct {
	name    string
	modTime time.Time
}

func (s *Store) list(conversationID string, limit int) ([]domain.ArtifactRecord, error) {
	dir := s.ConversationDir(conversationID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.ArtifactRecord{}, nil
		}
		return nil, fmt.Errorf("read conversation dir: %w", err)
	}

	sidecars := make([]sidecarEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sidecarSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sidecars = append(sidecars, sidecarEntry{name: name, modTime: info.ModTime()})
	}
	sort.Slice(sidecars, func(i, j int) bool {
		if !sidecars[i].modTime.Equal(sidecars[j].modTime) {
			return sidecars[i].modTime.After(sidecars[j].modTime)
		}
		return sidecars[i].name > sidecars[j].name
	})

	records := make([]domain.ArtifactRecord, 0, min(limit, len(sidecars)))
	for _, entry := range sidecars {
		if len(records) >= limit {
			break
		}
		binaryPath := filepath.Join(dir, strings.TrimSuffix(entry.name, sidecarSuffix))
		record, err := readSidecar(binaryPath + sidecarSuffix)
		if err != nil {
			s.skipInconsistent(entry.name, err)
			continue
		}
		if _, err := os.Stat(binaryPath); err != nil {
			s.skipInconsistent(entry.name, fmt.Errorf("binary missing: %w", err))
			continue
		}
		record.LocalPath = binaryPath
		record.Filename = filepath.Base(binaryPath)
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) skipInconsistent(name string, err error) {
	s.metrics.ObserveStorageInconsistency(s.kind)
	s.logger.Debug("skip artifact",
		zap.String("sidecar", name),
		zap.Error(domain.E(domain.CodeStorageInconsistency, "artifact.list", "", err)),
	)
}

// Get returns the record of the artifact stored at path.
func (s *Store) Get(ctx context.Context, path string) (domain.ArtifactRecord, bool, error) {
	binaryPath, err := s.artifactPath(path)
	if err != nil {
		return domain.ArtifactRecord{}, false, err
	}
	type found struct {
		record domain.ArtifactRecord
		ok     bool
	}
	res, err := workpool.Do(ctx, s.pool, func() (found, error) {
		record, err := readSidecar(binaryPath + sidecarSuffix)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return found{}, nil
			}
			s.skipInconsistent(filepath.Base(binaryPath)+sidecarSuffix, err)
			return found{}, nil
		}
		record.LocalPath = binaryPath
		return found{record: record, ok: true}, nil
	})
	if err != nil {
		return domain.ArtifactRecord{}, false, domain.WrapContext(domain.CodeInternal, "artifact.get", err)
	}
	return res.record, res.ok, nil
}

// Delete removes an artifact and its sidecar. It reports whether anything was removed.
func (s *Store) Delete(ctx context.Context, path string) (bool, error) {
	binaryPath, err := s.artifactPath(path)
	if err != nil {
		return false, err
	}
	deleted, err := workpool.Do(ctx, s.pool, func() (bool, error) {
		if info, err := os.Lstat(binaryPath); err == nil && info.IsDir() {
			return false, domain.E(domain.CodeInvalidArgument, "artifact.delete", "not an artifact file", domain.ErrValidation)
		}
		deleted := false
		for _, target := range []string{binaryPath, binaryPath + sidecarSuffix} {
			err := os.Remove(target)
			switch {
			case err == nil:
				deleted = true
			case errors.Is(err, fs.ErrNotExist):
			default:
				// Best effort: the pair may be left half removed, list hides it.
				s.logger.Warn("remove artifact file", zap.String("path", target), zap.Error(err))
			}
		}
		return deleted, nil
	})
	s.metrics.ObserveArtifact(s.kind, "delete", err)
	if err != nil {
		return false, domain.WrapContext(domain.CodeInternal, "artifact.delete", err)
	}
	return deleted, nil
}

// Locate resolves a served file inside a conversation directory. Anything that
// does not resolve to an existing file under the root reports not found.
func (s *Store) Locate(conversationID, filename string) (string, error) {
	convID := identity.Resolve(conversationID)
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." || strings.HasPrefix(name, ".") {
		return "", domain.E(domain.CodeNotFound, "artifact.locate", "file not found", nil)
	}
	candidate := filepath.Join(s.root, convID, name)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", domain.E(domain.CodeNotFound, "artifact.locate", "file not found", err)
	}
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", domain.E(domain.CodeNotFound, "artifact.locate", "file not found", err)
	}
	if !within(root, resolved) {
		return "", domain.E(domain.CodeInvalidArgument, "artifact.locate", "access denied", domain.ErrPathOutsideRoot)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", domain.E(domain.CodeNotFound, "artifact.locate", "file not found", err)
	}
	return resolved, nil
}

func (s *Store) artifactPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", domain.E(domain.CodeInvalidArgument, "artifact.path", "path is required", domain.ErrValidation)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", domain.E(domain.CodeInvalidArgument, "artifact.path", "", err)
	}
	abs = strings.TrimSuffix(abs, sidecarSuffix)
	if !within(s.root, abs) {
		return "", domain.E(domain.CodeInvalidArgument, "artifact.path", "path outside storage root", domain.ErrPathOutsideRoot)
	}
	// Artifacts live exactly one level down, in a conversation directory.
	if filepath.Dir(filepath.Dir(abs)) != s.root {
		return "", domain.E(domain.CodeInvalidArgument, "artifact.path", "not an artifact file", domain.ErrValidation)
	}
	return abs, nil
}

func (s *Store) filename(prefix string, createdAt time.Time, inputHash, nonce string) string {
	slug := slugify(prefix)
	if slug == "" {
		slug = string(s.kind)
	}
	stamp := fmt.Sprintf("%s_%06d", createdAt.Format("20060102_150405"), createdAt.Nanosecond()/int(time.Microsecond))
	if inputHash == "" {
		inputHash = "nohash00"
	}
	return fmt.Sprintf("%s_%s_%s_%s%s", slug, stamp, inputHash, nonce, s.extension)
}

func slugify(value string) string {
	runes := []rune(value)
	if len(runes) > maxPrefixLength {
		runes = runes[:maxPrefixLength]
	}
	var b strings.Builder
	for _, r := range runes {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func newNonce() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", "")[:8], nil
}

func writeExclusive(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	return file.Close()
}

func writeSidecar(path string, record domain.ArtifactRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func readSidecar(path string) (domain.ArtifactRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ArtifactRecord{}, err
	}
	var record domain.ArtifactRecord
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&record); err != nil {
		return domain.ArtifactRecord{}, fmt.Errorf("decode sidecar: %w", err)
	}
	return record, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
