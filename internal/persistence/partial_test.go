package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/pitabwire/formengine/model"
)

type fakePartialSubmitter struct {
	calls  int
	hashes []string
	err    error
}

func (f *fakePartialSubmitter) SavePartial(_ context.Context, _, hash string, _ model.Answers) error {
	f.calls++
	f.hashes = append(f.hashes, hash)
	return f.err
}

func TestNewSubmissionHash(t *testing.T) {
	a := NewSubmissionHash("signup")
	b := NewSubmissionHash("signup")
	if len(a) != 64 {
		t.Errorf("len(hash) = %d, want 64", len(a))
	}
	if a == b {
		t.Error("two hashes for the same form are equal, want distinct")
	}
}

func TestPartialSync_pushUsesStableHash(t *testing.T) {
	sub := &fakePartialSubmitter{}
	p := NewPartialSync("signup", sub, nil)
	ctx := context.Background()

	if err := p.Push(ctx, model.Answers{"name": "Ada"}); err != nil {
		t.Fatalf("Push error: %v", err)
	}
	if err := p.Push(ctx, model.Answers{"name": "Ada L"}); err != nil {
		t.Fatalf("Push error: %v", err)
	}
	if sub.calls != 2 {
		t.Fatalf("calls = %d, want 2", sub.calls)
	}
	if sub.hashes[0] != sub.hashes[1] || sub.hashes[0] != p.Hash() {
		t.Errorf("hashes = %v, want both equal to %s", sub.hashes, p.Hash())
	}

	p.Reset()
	if p.Hash() == sub.hashes[0] {
		t.Error("Hash() unchanged after Reset")
	}
}

func TestPartialSync_pauseAndResume(t *testing.T) {
	sub := &fakePartialSubmitter{}
	p := NewPartialSync("signup", sub, nil)
	ctx := context.Background()

	p.Pause()
	if !p.Paused() {
		t.Fatal("Paused() = false after Pause")
	}
	_ = p.Push(ctx, model.Answers{"name": "Ada"})
	if sub.calls != 0 {
		t.Errorf("calls while paused = %d, want 0", sub.calls)
	}

	p.Resume()
	_ = p.Push(ctx, model.Answers{"name": "Ada"})
	if sub.calls != 1 {
		t.Errorf("calls after Resume = %d, want 1", sub.calls)
	}
}

func TestPartialSync_skipsEmptyAnswersAndNilSubmitter(t *testing.T) {
	sub := &fakePartialSubmitter{}
	p := NewPartialSync("signup", sub, nil)
	_ = p.Push(context.Background(), model.Answers{"name": "", "tags": []any{}})
	if sub.calls != 0 {
		t.Errorf("calls = %d, want 0 for empty answers", sub.calls)
	}

	if err := NewPartialSync("signup", nil, nil).Push(context.Background(), model.Answers{"a": "b"}); err != nil {
		t.Errorf("Push without submitter error = %v, want nil", err)
	}
}

func TestPartialSync_restoredHash(t *testing.T) {
	sub := &fakePartialSubmitter{}
	p := NewPartialSync("signup", sub, nil)
	p.SetHash("from-draft")
	_ = p.Push(context.Background(), model.Answers{"a": "b"})
	if sub.hashes[0] != "from-draft" {
		t.Errorf("hash = %q, want from-draft", sub.hashes[0])
	}
}

func TestPartialSync_errorIsWrapped(t *testing.T) {
	cause := errors.New("boom")
	p := NewPartialSync("signup", &fakePartialSubmitter{err: cause}, nil)
	err := p.Push(context.Background(), model.Answers{"a": "b"})
	if !errors.Is(err, cause) {
		t.Errorf("Push error = %v, want wrapping %v", err, cause)
	}
}
