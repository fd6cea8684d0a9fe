package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tickwheel/pkg/logx"
)

const defaultRetain = 10000

var rename = os.Rename

// fileStore is a dependency-free run journal.
//
// Files:
//   - <prefix>.runs.jsonl (append-only JSON Lines)
//
// Once the journal holds twice the retain limit it is rewritten
// with only the newest records.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path   string
	f      *os.File
	retain int
	// recent holds up to retain records, oldest first.
	recent []RunRecord
	lines  int
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	retain := cfg.Retain
	if retain <= 0 {
		retain = defaultRetain
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	runsPath := filepath.Join(dir, base) + ".runs.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	recent, lines, err := replayRuns(runsPath, retain)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("run journal replay failed", logx.String("path", runsPath), logx.Err(err))
	}

	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:    log,
		path:   runsPath,
		f:      f,
		retain: retain,
		recent: recent,
		lines:  lines,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("run journal closed")
	}
	if s.f == nil {
		if err := s.reopenLocked(); err != nil {
			return err
		}
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	s.recent = append(s.recent, r)
	if len(s.recent) > s.retain {
		s.recent = append(s.recent[:0:0], s.recent[len(s.recent)-s.retain:]...)
	}
	if s.lines >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]RunRecord, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range s.recent {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	closeErr := s.f.Close()
	s.f = nil
	renameErr := rename(tmp, s.path)
	if renameErr != nil {
		_ = os.Remove(tmp)
	}
	// The journal stays appendable whether or not the swap happened.
	if err := s.reopenLocked(); err != nil {
		return errors.Join(closeErr, renameErr, err)
	}
	if renameErr != nil {
		return errors.Join(closeErr, renameErr)
	}
	s.lines = len(s.recent)
	return closeErr
}

func (s *fileStore) reopenLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

// replayRuns loads the newest retain records and counts journal lines.
// Malformed lines are skipped.
func replayRuns(path string, retain int) ([]RunRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	var (
		out   []RunRecord
		lines int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines++
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
		if len(out) > 2*retain {
			out = append(out[:0:0], out[len(out)-retain:]...)
		}
	}
	if len(out) > retain {
		out = out[len(out)-retain:]
	}
	return out, lines, sc.Err()
}
