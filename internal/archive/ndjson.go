// Package archive implements the cold, append-only NDJSON segment store
// (spec §4.2): file-per-segment, filename-encoded position range, atomic
// temp-then-rename writes, and a forward-only read cursor. The cursor
// does not filter by the active-segment set; callers do that.
//
// Import Path: eventcore.dev/eventcore/internal/archive
package archive

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"eventcore.dev/eventcore/internal/domain"
	coreerrors "eventcore.dev/eventcore/internal/pkg/errors"
	"eventcore.dev/eventcore/internal/pkg/logger"
)

// filenamePattern matches the authoritative naming scheme from spec §6:
// events-{min:016d}-{max:016d}.ndjson.
var filenamePattern = regexp.MustCompile(`^events-(\d{16})-(\d{16})\.ndjson$`)

// Store is the cold archive directory.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if missing.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// wireEvent is the on-disk NDJSON line shape (spec §6): camelCase
// fields, base64-encoded binary payload/metadata, RFC 3339 timestamp.
type wireEvent struct {
	GlobalPosition  int64   `json:"globalPosition"`
	StreamID        string  `json:"streamId"`
	StreamVersion   int32   `json:"streamVersion"`
	StreamNamespace *string `json:"streamNamespace"`
	EventType       string  `json:"eventType"`
	CreatedUtc      string  `json:"createdUtc"`
	Data            *string `json:"data"`
	Metadata        *string `json:"metadata"`
	Domain          string  `json:"-"`
}

func toWire(e domain.Event) wireEvent {
	w := wireEvent{
		GlobalPosition: e.GlobalPosition,
		StreamID:       e.StreamID,
		StreamVersion:  e.StreamVersion,
		EventType:      e.EventType,
		CreatedUtc:     e.CreatedUTC.Format(time.RFC3339Nano),
		Domain:         e.Domain,
	}
	if e.StreamNamespace != "" {
		ns := e.StreamNamespace
		w.StreamNamespace = &ns
	}
	if e.Payload != nil {
		data := base64.StdEncoding.EncodeToString(e.Payload)
		w.Data = &data
	}
	if e.Metadata != nil {
		meta := base64.StdEncoding.EncodeToString(e.Metadata)
		w.Metadata = &meta
	}
	return w
}

func (w wireEvent) toDomain() (domain.Event, error) {
	e := domain.Event{
		GlobalPosition: w.GlobalPosition,
		Domain:         w.Domain,
		StreamID:       w.StreamID,
		StreamVersion:  w.StreamVersion,
		EventType:      w.EventType,
	}
	if w.StreamNamespace != nil {
		e.StreamNamespace = *w.StreamNamespace
	}
	createdUTC, err := time.Parse(time.RFC3339Nano, w.CreatedUtc)
	if err != nil {
		return domain.Event{}, fmt.Errorf("parse createdUtc %q: %w", w.CreatedUtc, err)
	}
	e.CreatedUTC = createdUTC
	if w.Data != nil {
		payload, err := base64.StdEncoding.DecodeString(*w.Data)
		if err != nil {
			return domain.Event{}, fmt.Errorf("decode data: %w", err)
		}
		e.Payload = payload
	}
	if w.Metadata != nil {
		metadata, err := base64.StdEncoding.DecodeString(*w.Metadata)
		if err != nil {
			return domain.Event{}, fmt.Errorf("decode metadata: %w", err)
		}
		e.Metadata = metadata
	}
	return e, nil
}

// FileName returns the canonical basename for a segment spanning
// [minPos, maxPos].
func FileName(minPos, maxPos int64) string {
	return fmt.Sprintf("events-%016d-%016d.ndjson", minPos, maxPos)
}

// WriteSegment serializes events to NDJSON and writes them via the
// atomic write protocol (spec §4.2): write to a sibling .tmp file, flush
// and fsync, then rename into place. If the final name already exists
// (crash recovery / retry), the temp file is discarded and the existing
// file is treated as authoritative.
func (s *Store) WriteSegment(domainName string, events []domain.Event) (fileName string, err error) {
	if len(events) == 0 {
		return "", coreerrors.NewInvalidArgument("events", "segment must not be empty")
	}

	minPos, maxPos := events[0].GlobalPosition, events[0].GlobalPosition
	for _, e := range events {
		if e.GlobalPosition < minPos {
			minPos = e.GlobalPosition
		}
		if e.GlobalPosition > maxPos {
			maxPos = e.GlobalPosition
		}
	}

	fileName = FileName(minPos, maxPos)
	finalPath := filepath.Join(s.dir, fileName)

	if _, statErr := os.Stat(finalPath); statErr == nil {
		logger.Info("segment file already exists, treating as authoritative", zap.String("path", finalPath))
		return fileName, nil
	}

	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", coreerrors.NewBackend(fmt.Errorf("create temp segment file: %w", err))
	}

	w := bufio.NewWriter(f)
	for _, e := range events {
		line, err := json.Marshal(toWire(e))
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", coreerrors.NewBackend(fmt.Errorf("marshal event: %w", err))
		}
		if _, err := w.Write(line); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", coreerrors.NewBackend(fmt.Errorf("write event line: %w", err))
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", coreerrors.NewBackend(fmt.Errorf("write line terminator: %w", err))
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", coreerrors.NewBackend(fmt.Errorf("flush segment file: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", coreerrors.NewBackend(fmt.Errorf("fsync segment file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", coreerrors.NewBackend(fmt.Errorf("close segment file: %w", err))
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		if _, statErr := os.Stat(finalPath); statErr == nil {
			os.Remove(tmpPath)
			return fileName, nil
		}
		os.Remove(tmpPath)
		return "", coreerrors.NewBackend(fmt.Errorf("rename segment file: %w", err))
	}

	return fileName, nil
}

// segmentFile is one filename-scan result.
type segmentFile struct {
	name string
	min  int64
	max  int64
}

// scanFiles enumerates files matching the naming pattern in the
// directory, discarding malformed names, sorted by min ascending.
func (s *Store) scanFiles() ([]segmentFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}

	var files []segmentFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		minPos, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		maxPos, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, segmentFile{name: entry.Name(), min: minPos, max: maxPos})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].min < files[j].min })
	return files, nil
}

// ReadAllForwards implements the cold archive's read contract (spec
// §4.2): enumerate matching files, keep those with max > fromExclusive,
// sort by min, then stream lines in file order, dropping any event with
// global_position <= fromExclusive.
//
// The caller is responsible for filtering against the active-segment set
// (the combined feed, spec §4.6, does this); this function does not know
// which segments are registry-active.
func (s *Store) ReadAllForwards(domainName string, fromExclusive int64, batchSize int) ([]domain.Event, int64, error) {
	if !domain.ValidateBatchSize(batchSize) {
		return nil, fromExclusive, coreerrors.NewInvalidArgument("batch_size", "must be in [1, 10000]")
	}

	files, err := s.scanFiles()
	if err != nil {
		return nil, fromExclusive, coreerrors.NewBackend(err)
	}

	var events []domain.Event
	cursor := fromExclusive
	for _, file := range files {
		if file.max <= fromExclusive {
			continue
		}
		lines, err := s.readLines(file.name, domainName, cursor, batchSize-len(events))
		if err != nil {
			return nil, fromExclusive, err
		}
		events = append(events, lines...)
		if len(lines) > 0 {
			cursor = lines[len(lines)-1].GlobalPosition
		}
		if len(events) >= batchSize {
			break
		}
	}

	return events, cursor, nil
}

func (s *Store) readLines(fileName, domainName string, fromExclusive int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(filepath.Join(s.dir, fileName))
	if err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("open segment file %q: %w", fileName, err))
	}
	defer f.Close()

	var events []domain.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var w wireEvent
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, coreerrors.NewBackend(fmt.Errorf("parse segment line in %q: %w", fileName, err))
		}
		if w.GlobalPosition <= fromExclusive {
			continue
		}
		w.Domain = domainName
		e, err := w.toDomain()
		if err != nil {
			return nil, coreerrors.NewBackend(fmt.Errorf("decode segment line in %q: %w", fileName, err))
		}
		events = append(events, e)
		if len(events) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.NewBackend(fmt.Errorf("scan segment file %q: %w", fileName, err))
	}
	return events, nil
}

// GetRange returns (min, max) across all segment files found by
// filename scan, or ok=false if the directory has none. Purely
// informational (spec §4.2).
func (s *Store) GetRange() (minPos, maxPos int64, ok bool, err error) {
	files, err := s.scanFiles()
	if err != nil {
		return 0, 0, false, coreerrors.NewBackend(err)
	}
	if len(files) == 0 {
		return 0, 0, false, nil
	}

	minPos, maxPos = files[0].min, files[0].max
	for _, f := range files[1:] {
		if f.min < minPos {
			minPos = f.min
		}
		if f.max > maxPos {
			maxPos = f.max
		}
	}
	return minPos, maxPos, true, nil
}
