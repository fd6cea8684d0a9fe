package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/gomega"

	"tickwheel/internal/config"
	"tickwheel/internal/storage"
	"tickwheel/pkg/eventbus"
)

const testConfig = `
logging:
  level: error
wheel:
  tick: 20ms
  size: 16
engine:
  workers: 2
storage:
  driver: file
  path: %s
jobs:
  - name: pulse
    schedule: every:40ms
    max_count: 2
  - name: once
    schedule: after:100ms
    message: hello
    async: true
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tickwheel.yaml")
	body := []byte(fmt.Sprintf(testConfig, filepath.Join(dir, "history")))
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func startApp(t *testing.T) *App {
	t.Helper()
	a, err := NewApp(writeConfig(t))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func countByName(t *testing.T, st storage.Store) map[string]int {
	t.Helper()
	runs, err := st.RecentRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	out := map[string]int{}
	for _, r := range runs {
		out[r.Name]++
	}
	return out
}

func TestAppRunsConfiguredJobsAndJournalsThem(t *testing.T) {
	g := NewWithT(t)
	a := startApp(t)
	g.Expect(a.Store()).NotTo(BeNil())
	g.Expect(a.JobIDs()).To(HaveLen(2))

	g.Eventually(func() map[string]int {
		return countByName(t, a.Store())
	}, 3*time.Second, 20*time.Millisecond).Should(Equal(map[string]int{"pulse": 2, "once": 1}))

	g.Eventually(func() uint64 {
		return a.Scheduler().Snapshot().Counters.Retired
	}, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 2))
	g.Expect(a.Err()).To(BeNil())
}

func TestAppLogLinesCarryOneComponentTag(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "tickwheel.log")
	cfgPath := filepath.Join(dir, "tickwheel.yaml")
	body := fmt.Sprintf(`
logging:
  level: debug
  file:
    enabled: true
    path: %s
wheel:
  tick: 20ms
jobs:
  - name: pulse
    schedule: every:40ms
    max_count: 1
`, logPath)
	g.Expect(os.WriteFile(cfgPath, []byte(body), 0o600)).To(Succeed())

	a, err := NewApp(cfgPath)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.Start(context.Background())).To(Succeed())
	g.Eventually(func() string {
		b, _ := os.ReadFile(logPath)
		return string(b)
	}, 2*time.Second, 20*time.Millisecond).Should(ContainSubstring("job fired"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Expect(a.Stop(ctx, StopAppStop)).To(Succeed())

	b, err := os.ReadFile(logPath)
	g.Expect(err).NotTo(HaveOccurred())
	seen := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		g.Expect(strings.Count(line, `"comp":`)).To(BeNumerically("<=", 1), line)
		g.Expect(strings.Count(line, `"message":`)).To(BeNumerically("<=", 1), line)
		switch {
		case strings.Contains(line, `"engine started"`):
			g.Expect(line).To(ContainSubstring(`"comp":"engine"`))
			seen["engine"] = true
		case strings.Contains(line, `"job fired"`):
			g.Expect(line).To(ContainSubstring(`"comp":"jobs"`))
			seen["jobs"] = true
		}
	}
	g.Expect(seen).To(HaveKey("engine"))
	g.Expect(seen).To(HaveKey("jobs"))
}

func TestAppStopIsOrderly(t *testing.T) {
	g := NewWithT(t)
	a, err := NewApp(writeConfig(t))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a.Start(context.Background())).To(Succeed())
	g.Expect(a.Start(context.Background())).NotTo(Succeed())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Expect(a.Stop(ctx, StopSIGTERM)).To(Succeed())

	g.Expect(a.Scheduler().Stopped()).To(BeTrue())
	g.Expect(a.Engine().Running()).To(BeFalse())
	g.Eventually(a.Done()).Should(BeClosed())
}

func TestApplyConfigReconcilesJobsAndEngine(t *testing.T) {
	g := NewWithT(t)
	a := startApp(t)
	before := a.JobIDs()

	next, err := config.Decode("next.yaml", []byte(`
logging:
  level: error
wheel:
  tick: 20ms
  size: 16
engine:
  workers: 3
jobs:
  - name: pulse
    schedule: every:40ms
    max_count: 2
  - name: nightly
    schedule: "0 3 * * *"
`))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(next.Validate()).To(Succeed())

	a.applyConfig(context.Background(), next)

	after := a.JobIDs()
	g.Expect(after).To(HaveKey("nightly"))
	g.Expect(after).NotTo(HaveKey("once"))
	g.Expect(after["pulse"]).To(Equal(before["pulse"]))
	g.Expect(a.Engine().Snapshot().Workers).To(Equal(3))

	// Applying the same config again changes nothing.
	a.applyConfig(context.Background(), next)
	g.Expect(a.JobIDs()).To(Equal(after))
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"wheel":{"tick":"1ms"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(path); err == nil {
		t.Fatal("NewApp accepted a 1ms tick")
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      *config.StorageConfig
		want    storage.Config
		enabled bool
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "File", Path: " ./runs "},
			want: storage.Config{Driver: "file", Path: "./runs"}, enabled: true},
		{name: "file without path", in: &config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "sqlite default busy", in: &config.StorageConfig{Driver: "sqlite", Path: "runs.db"},
			want: storage.Config{Driver: "sqlite", Path: "runs.db", BusyTimeout: time.Second}, enabled: true},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite", Path: "runs.db", BusyTimeout: "250ms"},
			want: storage.Config{Driver: "sqlite", Path: "runs.db", BusyTimeout: 250 * time.Millisecond}, enabled: true},
		{name: "postgres", in: &config.StorageConfig{Driver: "postgresql", DSN: "postgres://x"},
			want: storage.Config{Driver: "postgres", DSN: "postgres://x"}, enabled: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", enabled, tt.enabled)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("config -want +got\n%s", diff)
			}
		})
	}
}

func TestToRunRecord(t *testing.T) {
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	ev := eventbus.Event{Type: eventbus.TaskFailed, Time: started.Add(time.Second), Data: eventbus.RunEvent{
		ID: "42", Name: "report", Async: true, Started: started, Duration: time.Second, Error: "boom",
	}}

	got, ok := toRunRecord(ev)
	if !ok {
		t.Fatal("toRunRecord rejected a failed event")
	}
	want := storage.RunRecord{
		At: started, ID: "42", Name: "report", Async: true, Duration: time.Second, Error: "boom", Event: eventbus.TaskFailed,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record -want +got\n%s", diff)
	}

	if _, ok := toRunRecord(eventbus.Event{Type: eventbus.TaskStarted, Data: eventbus.RunEvent{}}); ok {
		t.Error("started events are not journaled")
	}
	if _, ok := toRunRecord(eventbus.Event{Type: eventbus.TaskFired, Data: eventbus.WheelEvent{}}); ok {
		t.Error("wheel events are not journaled")
	}
}
