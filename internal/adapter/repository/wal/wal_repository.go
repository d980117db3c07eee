package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

const (
	segmentPrefix = "sightings-"
	segmentSuffix = ".jsonl"
	filePerm      = 0o644
	maxLineBytes  = 1 << 20
)

// ErrDiskFull is returned when a write would push the WAL past its size cap.
var ErrDiskFull = errors.New("wal disk budget exhausted")

var _ domain.WALRepository = (*WALRepository)(nil)

// WALRepository buffers player sightings on local disk as JSON lines split
// across size-capped segment files. Segment names sort in write order.
type WALRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu          sync.Mutex
	active      *os.File
	activeSize  int64
	closedBytes int64 // bytes held by segments other than active
	seq         int64
}

// NewWALRepository opens (or creates) the WAL in dir.
func NewWALRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*WALRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &WALRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "wal_repository"),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.resume(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends a sighting to the active segment.
func (w *WALRepository) Write(ctx context.Context, sighting domain.PlayerSighting) error {
	data, err := json.Marshal(sighting)
	if err != nil {
		return fmt.Errorf("failed to marshal sighting for WAL: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		if err := w.startSegment(); err != nil {
			return err
		}
	}

	used := w.closedBytes + w.activeSize
	if used+int64(len(data)) > w.maxTotalSize {
		return fmt.Errorf("%w (%d of %d bytes used)", ErrDiskFull, used, w.maxTotalSize)
	}

	n, err := w.active.Write(data)
	w.activeSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append to WAL segment: %w", err)
	}

	if w.activeSize >= w.maxSegmentSize {
		if err := w.startSegment(); err != nil {
			w.logger.Error("Failed to roll WAL segment", "error", err)
		}
	}
	return nil
}

// Replay streams every buffered sighting, oldest first, into handler. A
// handler error stops the replay and leaves the WAL intact.
func (w *WALRepository) Replay(ctx context.Context, handler func(sighting domain.PlayerSighting) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeActive()

	segments, err := w.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	w.logger.Info("Replaying WAL", "segment_count", len(segments))

	var replayed int
	for _, path := range segments {
		n, err := w.replaySegment(ctx, path, handler)
		replayed += n
		if err != nil {
			return err
		}
	}

	w.logger.Info("WAL replay completed", "sightings", replayed)
	return nil
}

func (w *WALRepository) replaySegment(ctx context.Context, path string, handler func(domain.PlayerSighting) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer f.Close()

	var n int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var s domain.PlayerSighting
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			w.logger.Warn("Skipping corrupt WAL line", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(s); err != nil {
			return n, fmt.Errorf("replay handler failed: %w", err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return n, nil
}

// ReplayAndTruncate replays every buffered sighting and then deletes the
// segments it replayed, holding the lock throughout. Writes that arrive
// meanwhile wait and land in the fresh segment started afterwards. A handler
// error leaves every segment on disk; replaying a sighting twice is harmless
// because upserts never move last_seen backward.
func (w *WALRepository) ReplayAndTruncate(ctx context.Context, handler func(sighting domain.PlayerSighting) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeActive()

	segments, err := w.segments()
	if err != nil {
		return 0, err
	}

	var replayed int
	for _, path := range segments {
		n, err := w.replaySegment(ctx, path, handler)
		replayed += n
		if err != nil {
			return replayed, err
		}
	}

	for _, path := range segments {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Error("Failed to remove WAL segment", "path", path, "error", err)
		}
	}
	w.closedBytes = 0
	if len(segments) > 0 {
		w.logger.Info("WAL drained", "segment_count", len(segments), "sightings", replayed)
	}
	return replayed, w.startSegment()
}

// Size reports the bytes currently buffered on disk.
func (w *WALRepository) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closedBytes + w.activeSize
}

// Close flushes and closes the active segment.
func (w *WALRepository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return nil
	}
	err := w.active.Close()
	w.active = nil
	w.closedBytes += w.activeSize
	w.activeSize = 0
	return err
}

// resume reopens the newest segment if it has room, otherwise starts a new one.
func (w *WALRepository) resume() error {
	segments, err := w.segments()
	if err != nil {
		return err
	}

	var total int64
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat segment %s: %w", path, err)
		}
		total += info.Size()
	}

	if len(segments) == 0 {
		return w.startSegment()
	}

	latest := segments[len(segments)-1]
	info, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat segment %s: %w", latest, err)
	}
	w.seq = segmentSeq(latest)

	if info.Size() >= w.maxSegmentSize {
		w.closedBytes = total
		return w.startSegment()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to reopen segment %s: %w", latest, err)
	}
	w.active = f
	w.activeSize = info.Size()
	w.closedBytes = total - info.Size()
	w.logger.Info("Resumed WAL segment", "path", latest, "size", w.activeSize, "total", total)
	return nil
}

func (w *WALRepository) startSegment() error {
	w.closeActive()

	w.seq++
	name := fmt.Sprintf("%s%020d-%d%s", segmentPrefix, w.seq, time.Now().UnixNano(), segmentSuffix)
	path := filepath.Join(w.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create WAL segment %s: %w", path, err)
	}
	w.active = f
	w.activeSize = 0
	w.logger.Debug("Started WAL segment", "path", path)
	return nil
}

func (w *WALRepository) closeActive() {
	if w.active == nil {
		return
	}
	if err := w.active.Sync(); err != nil {
		w.logger.Error("Failed to sync WAL segment", "error", err)
	}
	if err := w.active.Close(); err != nil {
		w.logger.Error("Failed to close WAL segment", "error", err)
	}
	w.active = nil
	w.closedBytes += w.activeSize
	w.activeSize = 0
}

func (w *WALRepository) segments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), segmentPrefix) && strings.HasSuffix(e.Name(), segmentSuffix) {
			out = append(out, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func segmentSeq(path string) int64 {
	var seq, ts int64
	name := strings.TrimSuffix(filepath.Base(path), segmentSuffix)
	if _, err := fmt.Sscanf(name, segmentPrefix+"%d-%d", &seq, &ts); err != nil {
		return 0
	}
	return seq
}
