package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tickwheel/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(context.Background(), Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Errorf("Open(%q) = %v, %v, want nil, nil", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	if err == nil || !strings.Contains(err.Error(), "mongo") {
		t.Errorf("Open(mongo) error = %v, want unknown driver", err)
	}
}

func TestOpenRequiresLocation(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Error("file driver without path: want error")
	}
	if _, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Error("postgres driver without dsn: want error")
	}
}

func record(i int) RunRecord {
	return RunRecord{
		At:       time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		ID:       "id",
		Name:     "job-" + string(rune('a'+i)),
		Duration: time.Duration(i) * time.Millisecond,
		Event:    "task_finished",
	}
}

func TestFileStoreRecentNewestFirst(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(dir, "history.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	for i := range 4 {
		if err := st.AppendRun(ctx, record(i)); err != nil {
			t.Fatalf("AppendRun(%d): %v", i, err)
		}
	}

	got, err := st.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []RunRecord{record(3), record(2)}
	if !cmp.Equal(got, want) {
		t.Errorf("RecentRuns(2) -want +got\n%s", cmp.Diff(want, got))
	}
	if _, err := os.Stat(filepath.Join(dir, "history.runs.jsonl")); err != nil {
		t.Errorf("journal file: %v", err)
	}
}

func TestFileStoreReplaysOnOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "history")}
	st, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := st.AppendRun(ctx, record(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendRun(ctx, record(9)); err == nil {
		t.Error("AppendRun after Close: want error")
	}

	// A torn trailing line is skipped.
	f, err := os.OpenFile(filepath.Join(dir, "history.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"at":"2024-`)
	_ = f.Close()

	st, err = Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, err := st.RecentRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []RunRecord{record(2), record(1), record(0)}
	if !cmp.Equal(got, want) {
		t.Errorf("RecentRuns() -want +got\n%s", cmp.Diff(want, got))
	}
}

func TestFileStoreCompacts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "h.log"), Retain: 3}
	st, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	for i := range 7 {
		if err := st.AppendRun(ctx, record(i)); err != nil {
			t.Fatal(err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "h.runs.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	// Compaction at 6 lines keeps 3, then one more append.
	if lines := strings.Count(string(b), "\n"); lines != 4 {
		t.Errorf("journal lines = %d, want 4", lines)
	}
	got, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []RunRecord{record(6), record(5), record(4)}
	if !cmp.Equal(got, want) {
		t.Errorf("RecentRuns() -want +got\n%s", cmp.Diff(want, got))
	}
}

func TestFileStoreSurvivesFailedCompaction(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	swap(t, &rename, func(string, string) error { return errors.New("rename denied") })
	st, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(dir, "h.log"), Retain: 2}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	for i := range 5 {
		if err := st.AppendRun(ctx, record(i)); err != nil {
			t.Fatalf("AppendRun(%d) = %v, want <nil>", i, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "h.runs.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(b), "\n"); lines != 5 {
		t.Errorf("journal lines = %d, want 5", lines)
	}
	if _, err := os.Stat(filepath.Join(dir, "h.runs.jsonl.tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("tmp file left behind: %v", err)
	}
	got, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []RunRecord{record(4), record(3)}
	if !cmp.Equal(got, want) {
		t.Errorf("RecentRuns() -want +got\n%s", cmp.Diff(want, got))
	}
}

func TestFileStoreHonorsContext(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := st.AppendRun(ctx, record(0)); err == nil {
		t.Error("AppendRun with cancelled ctx: want error")
	}
}
