package checkpoint

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Store reads and writes checkpoint files under a base directory, one file
// per job ID.
type Store struct {
	baseDir string
	logger  *zap.Logger
}

// NewStore creates the base directory if needed and returns a store rooted
// there.
func NewStore(baseDir string, logger *zap.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, errors.New("checkpoint: base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

// Path returns the checkpoint file path for a job ID.
func (s *Store) Path(jobID string) string {
	return filepath.Join(s.baseDir, sanitizeFilename(jobID)+".json")
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, then rename over the target. A crash mid-write leaves either the
// previous checkpoint or none, never a truncated one.
func (s *Store) Save(jobID string, state *State) error {
	state.Version = CurrentVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	target := s.Path(jobID)
	tmp, err := os.CreateTemp(s.baseDir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint %s: %w", target, err)
	}
	s.logger.Debug("checkpoint saved", zap.String("job_id", jobID), zap.String("path", target))
	return nil
}

// Load reads the checkpoint for a job. A missing file returns (nil, nil). A
// file that cannot be parsed or carries an unknown version is deleted and
// also returns (nil, nil): a bad checkpoint means a fresh start, never a
// crash.
func (s *Store) Load(jobID string) (*State, error) {
	target := s.Path(jobID)
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", target, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("discarding unreadable checkpoint",
			zap.String("path", target), zap.Error(err))
		os.Remove(target)
		return nil, nil
	}
	if state.Version != CurrentVersion {
		s.logger.Warn("discarding incompatible checkpoint",
			zap.String("path", target),
			zap.String("found_version", state.Version),
			zap.String("want_version", CurrentVersion))
		os.Remove(target)
		return nil, nil
	}
	return &state, nil
}

// Discard removes the checkpoint for a job, if any.
func (s *Store) Discard(jobID string) error {
	err := os.Remove(s.Path(jobID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// DeriveJobID produces a stable, filename-safe identifier for a job from its
// mode and arguments, so re-running the same invocation finds its own
// checkpoint.
func DeriveJobID(mode string, args []string) string {
	h := sha1.New()
	h.Write([]byte(mode))
	for _, arg := range args {
		h.Write([]byte{0})
		h.Write([]byte(arg))
	}
	digest := hex.EncodeToString(h.Sum(nil))[:16]

	label := ""
	if len(args) > 0 {
		label = sanitizeFilename(args[0])
		if len(label) > 40 {
			label = label[:40]
		}
	}
	if label == "" {
		return fmt.Sprintf("%s-%s", mode, digest)
	}
	return fmt.Sprintf("%s-%s-%s", mode, label, digest)
}

func sanitizeFilename(name string) string {
	name = strings.TrimPrefix(name, "https://")
	name = strings.TrimPrefix(name, "http://")
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}
