package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "bgjobs/pkg/logx"
)

func openTest(t *testing.T, driver string, retain int) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	st, err := Open(Config{Driver: driver, Path: path, Retain: retain}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v, want nil, nil", d, st, err)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("Open(redis) err = nil")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("Open(file) without path err = nil")
	}
}

func TestJournalAppendAndRecent(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st, _ := openTest(t, driver, 0)
			ctx := context.Background()
			for i := 1; i <= 5; i++ {
				r := Run{
					WindowID: "w1",
					JobID:    int64(i),
					Label:    fmt.Sprintf("job-%d", i),
					Target:   base.Add(time.Duration(i) * time.Second),
					Started:  base.Add(time.Duration(i)*time.Second + time.Millisecond),
					Took:     time.Duration(i) * time.Millisecond,
				}
				if i == 3 {
					r.Error = "boom"
				}
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}

			got, err := st.Recent(ctx, 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len(Recent) = %d, want 3", len(got))
			}
			for i, want := range []int64{5, 4, 3} {
				if got[i].JobID != want {
					t.Fatalf("Recent[%d].JobID = %d, want %d", i, got[i].JobID, want)
				}
				if got[i].ID == "" {
					t.Fatalf("Recent[%d] has no id", i)
				}
			}
			if !got[2].Failed() || got[0].Failed() {
				t.Fatalf("Failed flags wrong: %+v", got)
			}
			if !got[0].Target.Equal(base.Add(5*time.Second)) || got[0].Took != 5*time.Millisecond {
				t.Fatalf("Recent[0] = %+v", got[0])
			}
			if got[0].Label != "job-5" || got[0].WindowID != "w1" {
				t.Fatalf("Recent[0] = %+v", got[0])
			}

			all, err := st.Recent(ctx, 100)
			if err != nil || len(all) != 5 {
				t.Fatalf("Recent(100) = %d runs, %v; want 5", len(all), err)
			}
			if none, err := st.Recent(ctx, 0); err != nil || none != nil {
				t.Fatalf("Recent(0) = %v, %v", none, err)
			}
		})
	}
}

func TestFileJournalCompactsToRetain(t *testing.T) {
	t.Parallel()
	st, path := openTest(t, "file", 3)
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		if err := st.AppendRun(ctx, Run{WindowID: "w", JobID: int64(i)}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	// 6 lines trigger a compaction down to 3; one more append makes 4.
	n, err := countLines(filepath.Join(filepath.Dir(path), "journal.runs.jsonl"))
	if err != nil {
		t.Fatalf("countLines: %v", err)
	}
	if n != 4 {
		t.Fatalf("lines = %d, want 4", n)
	}
	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 4 || got[0].JobID != 7 || got[3].JobID != 4 {
		t.Fatalf("Recent = %+v", got)
	}
}

func TestFileJournalSurvivesReopenAndSkipsGarbage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "j.json")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	_ = st.AppendRun(ctx, Run{WindowID: "w", JobID: 1})
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "j.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	_ = st.AppendRun(ctx, Run{WindowID: "w", JobID: 2})
	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].JobID != 2 || got[1].JobID != 1 {
		t.Fatalf("Recent = %+v", got)
	}
}

func TestClosedStoreErrors(t *testing.T) {
	t.Parallel()
	st, _ := openTest(t, "file", 0)
	_ = st.Close()
	if err := st.AppendRun(context.Background(), Run{}); err == nil {
		t.Fatalf("AppendRun after Close err = nil")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}

func TestSQLiteJournalPrunes(t *testing.T) {
	t.Parallel()
	st, _ := openTest(t, "sqlite", 10)
	ctx := context.Background()
	for i := 1; i <= 100; i++ {
		if err := st.AppendRun(ctx, Run{WindowID: "w", JobID: int64(i)}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	got, err := st.Recent(ctx, 1000)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 10 || got[0].JobID != 100 || got[9].JobID != 91 {
		t.Fatalf("Recent after prune = %d runs (first %+v)", len(got), got[0])
	}
}
