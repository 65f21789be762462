package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// DefaultBasePath is used when a FileQueue is created without a directory.
const DefaultBasePath = "/var/lib/telhawk/router-dlq"

// FileQueue writes failed envelopes to one JSON file each.
type FileQueue struct {
	basePath string
	logger   *logging.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates a DLQ that writes to basePath.
func NewFileQueue(basePath string, logger *logging.Logger) (*FileQueue, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{basePath: basePath, logger: logging.OrDefault(logger)}, nil
}

// Write implements Queue.
func (q *FileQueue) Write(ctx context.Context, env *model.RawEnvelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	failed := newFailedEnvelope(env, err, reason)
	data, marshalErr := json.MarshalIndent(failed, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	filename := fmt.Sprintf("failed_%d_%06d.json", failed.Timestamp.UnixNano(), q.written)
	if writeErr := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); writeErr != nil {
		return fmt.Errorf("write dlq entry: %w", writeErr)
	}

	q.written++
	q.logger.WarnContext(ctx, "envelope written to dead letter queue",
		"file", filename, "reason", reason, logging.EnvelopeID(envelopeID(env)))
	return nil
}

// List implements Queue. Entries come back oldest first.
func (q *FileQueue) List(ctx context.Context, limit int) ([]FailedEnvelope, error) {
	if q == nil {
		return nil, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return nil, err
	}

	var out []FailedEnvelope
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.ErrorContext(ctx, "failed to read dlq file", "file", name, logging.Error(err))
			continue
		}
		var failed FailedEnvelope
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.ErrorContext(ctx, "failed to parse dlq file", "file", name, logging.Error(err))
			continue
		}
		out = append(out, failed)
	}
	return out, nil
}

// Purge implements Queue.
func (q *FileQueue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return err
	}
	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			q.logger.ErrorContext(ctx, "failed to delete dlq file", "file", name, logging.Error(err))
			continue
		}
		deleted++
	}
	q.logger.InfoContext(ctx, "dead letter queue purged", "deleted", deleted)
	return nil
}

// Stats implements Queue.
func (q *FileQueue) Stats(_ context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "file"}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{
		"enabled":   true,
		"backend":   "file",
		"written":   q.written,
		"base_path": q.basePath,
	}
	names, err := q.entries()
	if err != nil {
		stats["error"] = err.Error()
		stats["pending_files"] = 0
		return stats
	}
	stats["pending_files"] = len(names)
	return stats
}

// DeleteBefore removes entries written before t. Returns the number removed.
func (q *FileQueue) DeleteBefore(t time.Time) (int, error) {
	if q == nil {
		return 0, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.entries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		var nanos, seq int64
		if _, err := fmt.Sscanf(name, "failed_%d_%d.json", &nanos, &seq); err != nil {
			continue
		}
		if !time.Unix(0, nanos).Before(t) {
			continue
		}
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			return removed, fmt.Errorf("delete dlq file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (q *FileQueue) entries() ([]string, error) {
	files, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasPrefix(f.Name(), "failed_") || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return names, nil
}

func envelopeID(env *model.RawEnvelope) string {
	if env == nil {
		return ""
	}
	return env.ID
}
