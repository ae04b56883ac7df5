package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("00:00", "22:30")
	if err != nil {
		t.Fatalf("ParseWindow error: %v", err)
	}
	if w.Start != 0 || w.End != 22*60+30 {
		t.Errorf("window = %+v, want {0 1350}", w)
	}
	if w.String() != "00:00-22:30" {
		t.Errorf("String() = %q", w.String())
	}

	if _, err := ParseWindow("25:00", "22:30"); err == nil {
		t.Error("expected error for invalid start")
	}
	if _, err := ParseWindow("08:00", "noon"); err == nil {
		t.Error("expected error for invalid end")
	}
}

func TestWindow_Contains(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC) }

	day := Window{Start: 0, End: 22*60 + 30}
	if !day.Contains(at(0, 0)) || !day.Contains(at(22, 29)) {
		t.Error("day window should contain 00:00 and 22:29")
	}
	if day.Contains(at(22, 30)) || day.Contains(at(23, 59)) {
		t.Error("day window should end at 22:30")
	}

	night := Window{Start: 22 * 60, End: 6 * 60}
	if !night.Contains(at(23, 0)) || !night.Contains(at(5, 59)) {
		t.Error("overnight window should wrap midnight")
	}
	if night.Contains(at(12, 0)) {
		t.Error("overnight window should not contain noon")
	}

	if !(Window{Start: 600, End: 600}).Contains(at(3, 0)) {
		t.Error("equal bounds cover the whole day")
	}
}

func TestService_AddAndListJobs(t *testing.T) {
	s := NewService("", nil)

	job, err := s.AddJob("drain", "@every 30s", nil, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if job.ID != "drain" || !job.Enabled {
		t.Errorf("job = %+v", job)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	if jobs[0].Schedule != "@every 30s" {
		t.Errorf("schedule = %q", jobs[0].Schedule)
	}

	if _, err := s.AddJob("drain", "@every 1m", nil, nil); err == nil {
		t.Error("expected duplicate job error")
	}
}

func TestService_AddJob_InvalidSchedule(t *testing.T) {
	s := NewService("", nil)
	if _, err := s.AddJob("bad", "not a schedule", nil, nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	// Five fields: the scheduler wants seconds.
	if _, err := s.AddJob("five", "0 * * * *", nil, nil); err == nil {
		t.Fatal("expected error for five-field expression")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("invalid jobs must not be added")
	}
}

func TestService_RunNow_RecordsState(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "cron.json")
	s := NewService(storePath, nil)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	boom := errors.New("boom")
	fail := true
	_, _ = s.AddJob("notify", "0 0 7 * * *", nil, func(context.Context) error {
		if fail {
			return boom
		}
		return nil
	})

	if err := s.RunNow(context.Background(), "notify"); !errors.Is(err, boom) {
		t.Fatalf("RunNow error = %v, want boom", err)
	}
	st := s.ListJobs()[0].State
	if st.LastStatus != StatusError || st.LastError != "boom" || st.Runs != 1 {
		t.Errorf("state after failure = %+v", st)
	}

	fail = false
	if err := s.RunNow(context.Background(), "notify"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	st = s.ListJobs()[0].State
	if st.LastStatus != StatusOK || st.LastError != "" || st.Runs != 2 || st.LastRunAtMs != 1700000000000 {
		t.Errorf("state after success = %+v", st)
	}

	data, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var stored []Job
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stored) != 1 || stored[0].State.Runs != 2 {
		t.Errorf("stored = %+v", stored)
	}

	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestService_SkippedStatus(t *testing.T) {
	s := NewService("", nil)
	_, _ = s.AddJob("drain", "@every 1s", nil, func(context.Context) error {
		return Skipped(errors.New("busy"))
	})
	_ = s.RunNow(context.Background(), "drain")
	if got := s.ListJobs()[0].State.LastStatus; got != StatusSkipped {
		t.Errorf("status = %q, want skipped", got)
	}
}

func TestService_StatePersistsAcrossRestart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "cron.json")
	s1 := NewService(storePath, nil)
	_, _ = s1.AddJob("notify", "@every 1h", nil, func(context.Context) error { return nil })
	_ = s1.RunNow(context.Background(), "notify")

	s2 := NewService(storePath, nil)
	_, _ = s2.AddJob("notify", "@every 1h", nil, func(context.Context) error { return nil })
	if err := s2.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s2.Stop()

	if runs := s2.ListJobs()[0].State.Runs; runs != 1 {
		t.Errorf("restored runs = %d, want 1", runs)
	}
	if _, ok := s2.NextRun("notify"); !ok {
		t.Error("NextRun should report a registered job")
	}

	jobs, err := LoadState(storePath)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("LoadState = %v, %v", jobs, err)
	}
}

func TestService_StartExecutesJobs(t *testing.T) {
	s := NewService("", nil)
	var runs atomic.Int32
	_, _ = s.AddJob("tick", "@every 1s", nil, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Error("job did not run")
	}
}

func TestService_ExecuteJob_OutsideWindow(t *testing.T) {
	s := NewService("", nil)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC) }
	var runs int
	w := Window{Start: 0, End: 22*60 + 30}
	_, _ = s.AddJob("drain", "@every 30s", &w, func(context.Context) error {
		runs++
		return nil
	})

	s.executeJob("drain")
	if runs != 0 {
		t.Error("job ran outside its window")
	}

	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	s.executeJob("drain")
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestService_ExecuteJob_PassesRunContext(t *testing.T) {
	s := NewService("", nil)
	ctx, cancel := context.WithCancel(context.Background())
	var got context.Context
	_, _ = s.AddJob("ctx", "@every 1h", nil, func(c context.Context) error {
		got = c
		return nil
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.executeJob("ctx")
	cancel()

	select {
	case <-got.Done():
	case <-time.After(time.Second):
		t.Error("job context should be cancelled with the parent")
	}
}

func TestService_Start_ParentCancelInvokesStop(t *testing.T) {
	s := NewService("", nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		stopped := s.cancel == nil
		s.mu.Unlock()
		if stopped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("service did not stop after parent cancel")
}

func TestService_EnableJob(t *testing.T) {
	s := NewService("", nil)
	_, _ = s.AddJob("toggle", "@every 1h", nil, func(context.Context) error { return nil })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	job, err := s.EnableJob("toggle", false)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if job.Enabled {
		t.Error("job should be disabled")
	}
	if _, ok := s.NextRun("toggle"); ok {
		t.Error("disabled job should not be scheduled")
	}

	if _, err := s.EnableJob("toggle", true); err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if _, ok := s.NextRun("toggle"); !ok {
		t.Error("re-enabled job should be scheduled")
	}

	if _, err := s.EnableJob("missing", true); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestService_DisabledJobStaysDisabledAfterRestart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "cron.json")
	noop := func(context.Context) error { return nil }

	s1 := NewService(storePath, nil)
	_, _ = s1.AddJob("drain", "@every 30s", nil, noop)
	_, _ = s1.AddJob("notify", "0 0 7 * * *", nil, noop)
	if err := s1.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := s1.EnableJob("drain", false); err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	s1.Stop()

	s2 := NewService(storePath, nil)
	_, _ = s2.AddJob("drain", "@every 30s", nil, noop)
	_, _ = s2.AddJob("notify", "0 0 7 * * *", nil, noop)
	if err := s2.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s2.Stop()

	for _, j := range s2.ListJobs() {
		want := j.ID != "drain"
		if j.Enabled != want {
			t.Errorf("job %s enabled = %v after restart, want %v", j.ID, j.Enabled, want)
		}
	}
	if _, ok := s2.NextRun("drain"); ok {
		t.Error("job disabled before restart is scheduled again")
	}
	if _, ok := s2.NextRun("notify"); !ok {
		t.Error("enabled job should be scheduled after restart")
	}
}

func TestService_EnableJob_WithoutStart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "cron.json")
	noop := func(context.Context) error { return nil }

	s1 := NewService(storePath, nil)
	_, _ = s1.AddJob("notify", "@every 1h", nil, noop)
	_ = s1.RunNow(context.Background(), "notify")

	s2 := NewService(storePath, nil)
	_, _ = s2.AddJob("notify", "@every 1h", nil, noop)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, err := s2.EnableJob("notify", false); err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}

	jobs, err := LoadState(storePath)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("LoadState = %v, %v", jobs, err)
	}
	if jobs[0].Enabled {
		t.Error("disabled flag was not saved")
	}
	if jobs[0].State.Runs != 1 {
		t.Errorf("runs = %d, state from the earlier run was lost", jobs[0].State.Runs)
	}
}
