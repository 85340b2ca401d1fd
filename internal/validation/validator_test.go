package validation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/model"
)

func testForm() model.FormDefinition {
	return model.FormDefinition{
		ID:       "signup",
		Checksum: "abc",
		Fields: []model.FieldDefinition{
			{ID: "name", Type: model.FieldText, Required: model.Bool(true)},
			{ID: "email", Type: model.FieldEmail, Required: model.Bool(true)},
			{ID: "site", Type: model.FieldURL},
			{ID: "phone", Type: model.FieldPhone},
			{ID: "age", Type: model.FieldNumber},
			{ID: "born", Type: model.FieldDate},
			{ID: "plan", Type: model.FieldSelect, Options: []string{"free", "pro"}},
			{ID: "langs", Type: model.FieldMultiSelect, Options: []string{"go", "rust"}},
			{ID: "terms", Type: model.FieldCheckbox, Required: model.Bool(true)},
			{ID: "skip", Type: model.FieldCheckbox},
			{
				ID: "reason", Type: model.FieldText, Required: model.Bool(true), Hidden: model.Bool(false),
				Logic: &model.LogicDefinition{
					Conditions: &model.ConditionNode{Field: "skip", Operator: condition.OpIsChecked},
					Actions:    []string{model.ActionHideBlock},
				},
			},
			{ID: "intro", Type: model.FieldStaticText, Required: model.Bool(true)},
		},
	}
}

func allIDs(f model.FormDefinition) []string {
	ids := make([]string, 0, len(f.Fields))
	for _, fd := range f.Fields {
		ids = append(ids, fd.ID)
	}
	return ids
}

func TestValidate(t *testing.T) {
	v := New(nil, nil)
	form := testForm()

	tests := []struct {
		name    string
		answers model.Answers
		want    map[string]string
	}{
		{
			name: "all valid",
			answers: model.Answers{
				"name": "Ada", "email": "ada@example.com", "site": "https://example.com",
				"phone": "+254 700 000000", "age": "36", "born": "1815-12-10",
				"plan": "pro", "langs": []any{"go"}, "terms": true, "reason": "curious",
			},
			want: map[string]string{},
		},
		{
			name:    "missing required",
			answers: model.Answers{"terms": false},
			want: map[string]string{
				"name": MsgRequired, "email": MsgRequired, "terms": MsgRequired, "reason": MsgRequired,
			},
		},
		{
			name:    "hidden field is not required",
			answers: model.Answers{"name": "Ada", "email": "ada@example.com", "terms": true, "skip": true},
			want:    map[string]string{},
		},
		{
			name: "format errors",
			answers: model.Answers{
				"name": "Ada", "email": "not-an-email", "site": "example", "phone": "call me",
				"age": "old", "born": "yesterday", "plan": "gold", "langs": []any{"go", "cobol"},
				"terms": true, "reason": "x",
			},
			want: map[string]string{
				"email": MsgInvalidEmail, "site": MsgInvalidURL, "phone": MsgInvalidPhone,
				"age": MsgInvalidNumber, "born": MsgInvalidDate, "plan": MsgInvalidOption,
				"langs": MsgInvalidOption,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(context.Background(), form, allIDs(form), tt.answers)
			if err != nil {
				t.Fatalf("Validate error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate_nonStringOptionAnswers(t *testing.T) {
	v := New(nil, nil)
	form := model.FormDefinition{
		ID: "tiers",
		Fields: []model.FieldDefinition{
			{ID: "tier", Type: model.FieldSelect, Options: []string{"1", "2"}},
			{ID: "seats", Type: model.FieldMultiSelect, Options: []string{"10", "20"}},
			{ID: "count", Type: model.FieldNumber},
		},
	}
	ids := []string{"tier", "seats", "count"}

	tests := []struct {
		name    string
		answers model.Answers
		want    map[string]string
	}{
		{"int", model.Answers{"tier": 1, "seats": []any{10}, "count": 3}, map[string]string{}},
		{"int64", model.Answers{"tier": int64(2), "seats": []any{int64(20)}}, map[string]string{}},
		{"json number", model.Answers{"tier": json.Number("1"), "count": json.Number("4.5")}, map[string]string{}},
		{"unknown int option", model.Answers{"tier": 3, "seats": []any{30}}, map[string]string{
			"tier": MsgInvalidOption, "seats": MsgInvalidOption,
		}},
		{"bad json number", model.Answers{"count": json.Number("x")}, map[string]string{"count": MsgInvalidNumber}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(context.Background(), form, ids, tt.answers)
			if err != nil {
				t.Fatalf("Validate error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate_onlyRequestedFields(t *testing.T) {
	v := New(nil, nil)
	got, _ := v.Validate(context.Background(), testForm(), []string{"site", "unknown"}, model.Answers{})
	if len(got) != 0 {
		t.Errorf("Validate() = %v, want no errors", got)
	}
}

func TestValidate_cachesResolverByChecksum(t *testing.T) {
	v := New(nil, nil)
	form := testForm()
	ctx := context.Background()

	_, _ = v.Validate(ctx, form, []string{"name"}, model.Answers{})
	_, _ = v.Validate(ctx, form, []string{"name"}, model.Answers{})

	n := 0
	v.resolvers.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("cached resolvers = %d, want 1", n)
	}
}
