package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestPersister(t *testing.T) *Persister {
	t.Helper()
	p, err := NewPersister(filepath.Join(t.TempDir(), "nested", "usage.db"), 10, 60, 30)
	if err != nil {
		t.Fatalf("NewPersister: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestPersisterSummary(t *testing.T) {
	p := newTestPersister(t)
	now := time.Now().UTC().Truncate(time.Second)

	p.Enqueue(Record{Subject: "u1", Kind: "consultation", Model: "m", RequestedAt: now.Add(-time.Minute), PromptTokens: 10, OutputChars: 100})
	p.Enqueue(Record{Subject: "u1", Kind: "idea", Model: "m", RequestedAt: now, PromptTokens: 5, OutputTokens: 7, OutputChars: 40, Failed: true})
	p.Enqueue(Record{Subject: "u2", Kind: "idea", RequestedAt: now})

	ctx := context.Background()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s, err := p.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Requests != 2 || s.Failed != 1 || s.PromptTokens != 15 || s.OutputTokens != 7 || s.OutputChars != 140 {
		t.Errorf("summary = %+v", s)
	}
	if !s.LastRequest.Equal(now) {
		t.Errorf("LastRequest = %v, want %v", s.LastRequest, now)
	}

	empty, err := p.Summary(ctx, "nobody")
	if err != nil || empty.Requests != 0 || !empty.LastRequest.IsZero() {
		t.Errorf("empty summary = %+v, %v", empty, err)
	}
}

func TestPersisterRetention(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	p.Enqueue(Record{Subject: "u1", Kind: "idea", RequestedAt: time.Now().AddDate(0, 0, -40)})
	p.Enqueue(Record{Subject: "u1", Kind: "idea", RequestedAt: time.Now()})
	if err := p.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	s, err := p.Summary(ctx, "u1")
	if err != nil || s.Requests != 1 {
		t.Errorf("after cleanup = %+v, %v", s, err)
	}
}

func TestPersisterStopFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	p, err := NewPersister(path, 100, 3600, 30)
	if err != nil {
		t.Fatal(err)
	}
	p.Enqueue(Record{Subject: "u1", Kind: "idea"})
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	reopened, err := NewPersister(path, 100, 3600, 30)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Stop()
	s, err := reopened.Summary(context.Background(), "u1")
	if err != nil || s.Requests != 1 {
		t.Errorf("summary after reopen = %+v, %v", s, err)
	}
}

func TestNilPersister(t *testing.T) {
	var p *Persister
	p.Enqueue(Record{Subject: "u1"})
	if err := p.Flush(context.Background()); err != nil {
		t.Error(err)
	}
	if err := p.Stop(); err != nil {
		t.Error(err)
	}
	if s, err := p.Summary(context.Background(), "u1"); err != nil || s.Requests != 0 {
		t.Errorf("nil summary = %+v, %v", s, err)
	}
}
