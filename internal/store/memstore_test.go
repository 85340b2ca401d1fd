package store

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/formengine/model"
)

func TestMemorySubmissionStore_SubmitAndFetch(t *testing.T) {
	s := NewMemorySubmissionStore()
	ctx := context.Background()

	res, err := s.Submit(ctx, model.Submission{FormID: "signup", Answers: model.Answers{"name": "Ada"}, CompletionTime: 30})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if res.SubmissionID == "" {
		t.Fatal("SubmissionID is empty")
	}

	answers, err := s.FetchSubmission(ctx, "signup", res.SubmissionID)
	if err != nil {
		t.Fatalf("FetchSubmission error: %v", err)
	}
	if answers["name"] != "Ada" {
		t.Errorf("answers[name] = %v, want Ada", answers["name"])
	}

	sub, _ := s.Get(ctx, "signup", res.SubmissionID)
	if sub.Version != 1 || sub.Partial || sub.CompletionTime != 30 {
		t.Errorf("stored = %+v", sub)
	}
}

func TestMemorySubmissionStore_FetchScopedToForm(t *testing.T) {
	s := NewMemorySubmissionStore()
	ctx := context.Background()
	res, _ := s.Submit(ctx, model.Submission{FormID: "signup", Answers: model.Answers{"a": "b"}})

	_, err := s.FetchSubmission(ctx, "other", res.SubmissionID)
	if model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("error code = %q, want %s", model.CodeOf(err), model.ErrNotFound)
	}
}

func TestMemorySubmissionStore_EditExisting(t *testing.T) {
	s := NewMemorySubmissionStore()
	ctx := context.Background()
	res, _ := s.Submit(ctx, model.Submission{FormID: "signup", Answers: model.Answers{"name": "Ada"}})

	edited, err := s.Submit(ctx, model.Submission{FormID: "signup", SubmissionID: res.SubmissionID, Answers: model.Answers{"name": "Ada L"}})
	if err != nil {
		t.Fatalf("Submit edit error: %v", err)
	}
	if edited.SubmissionID != res.SubmissionID {
		t.Errorf("edit created %q, want update of %q", edited.SubmissionID, res.SubmissionID)
	}
	sub, _ := s.Get(ctx, "signup", res.SubmissionID)
	if sub.Answers["name"] != "Ada L" || sub.Version != 2 {
		t.Errorf("after edit = %+v", sub)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	if _, err := s.Submit(ctx, model.Submission{FormID: "signup", SubmissionID: "missing"}); model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("edit of missing submission code = %q, want NOT_FOUND", model.CodeOf(err))
	}
}

func TestMemorySubmissionStore_PartialThenComplete(t *testing.T) {
	s := NewMemorySubmissionStore()
	ctx := context.Background()

	if err := s.SavePartial(ctx, "signup", "h1", model.Answers{"name": "A"}); err != nil {
		t.Fatalf("SavePartial error: %v", err)
	}
	if err := s.SavePartial(ctx, "signup", "h1", model.Answers{"name": "Ad"}); err != nil {
		t.Fatalf("SavePartial error: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	list, _ := s.List(ctx, "signup", Filters{})
	if len(list) != 0 {
		t.Errorf("List without partial = %d, want 0", len(list))
	}
	list, _ = s.List(ctx, "signup", Filters{IncludePartial: true})
	if len(list) != 1 || list[0].Answers["name"] != "Ad" || !list[0].Partial {
		t.Errorf("List with partial = %+v", list)
	}

	res, err := s.Submit(ctx, model.Submission{FormID: "signup", SubmissionHash: "h1", Answers: model.Answers{"name": "Ada"}})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if res.SubmissionID != list[0].ID {
		t.Errorf("Submit created %q, want completion of partial %q", res.SubmissionID, list[0].ID)
	}
	sub, _ := s.Get(ctx, "signup", res.SubmissionID)
	if sub.Partial {
		t.Error("Partial = true after final submit")
	}

	err = s.SavePartial(ctx, "signup", "h1", model.Answers{"name": "late"})
	if model.CodeOf(err) != model.ErrConflict {
		t.Errorf("SavePartial over complete code = %q, want CONFLICT", model.CodeOf(err))
	}
	if err := s.SavePartial(ctx, "signup", "", model.Answers{}); model.CodeOf(err) != model.ErrBadRequest {
		t.Errorf("SavePartial without hash code = %q, want BAD_REQUEST", model.CodeOf(err))
	}
}

func TestMemorySubmissionStore_Exists(t *testing.T) {
	s := NewMemorySubmissionStore()
	ctx := context.Background()
	_, _ = s.Submit(ctx, model.Submission{FormID: "signup", Answers: model.Answers{
		"email": "ada@example.com",
		"age":   36.0,
		"tags":  []any{"math", "engines"},
	}})
	_ = s.SavePartial(ctx, "signup", "h", model.Answers{"email": "partial@example.com"})

	tests := []struct {
		name    string
		formID  string
		fieldID string
		value   any
		want    bool
	}{
		{"scalar match", "signup", "email", "ada@example.com", true},
		{"scalar miss", "signup", "email", "bob@example.com", false},
		{"number matches its text form", "signup", "age", "36", true},
		{"number matches number", "signup", "age", 36.0, true},
		{"array answer intersects stored array", "signup", "tags", []any{"poetry", "engines"}, true},
		{"array answer disjoint", "signup", "tags", []any{"poetry"}, false},
		{"scalar against stored array", "signup", "tags", "math", true},
		{"partial submissions are ignored", "signup", "email", "partial@example.com", false},
		{"other form", "other", "email", "ada@example.com", false},
		{"empty value", "signup", "email", "", false},
		{"nil value", "signup", "email", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Exists(ctx, tt.formID, tt.fieldID, tt.value)
			if err != nil {
				t.Fatalf("Exists error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestMemorySubmissionStore_ListOrderAndPaging(t *testing.T) {
	s := NewMemorySubmissionStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()

	var ids []string
	for range 3 {
		res, _ := s.Submit(ctx, model.Submission{FormID: "signup", Answers: model.Answers{}})
		ids = append(ids, res.SubmissionID)
	}

	list, _ := s.List(ctx, "signup", Filters{})
	if len(list) != 3 || list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Errorf("List order = %v", list)
	}

	page, _ := s.List(ctx, "signup", Filters{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Errorf("List page = %v", page)
	}

	empty, _ := s.List(ctx, "signup", Filters{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("List past end = %d, want 0", len(empty))
	}
}
