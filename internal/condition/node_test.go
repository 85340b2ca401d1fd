package condition

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/formengine/model"
)

func testForm() model.FormDefinition {
	return model.FormDefinition{
		ID: "signup",
		Fields: []model.FieldDefinition{
			{ID: "name", Type: model.FieldText},
			{ID: "age", Type: model.FieldNumber},
			{ID: "agree", Type: model.FieldCheckbox},
			{ID: "break", Type: model.FieldPageBreak},
		},
	}
}

func TestCompile_nil(t *testing.T) {
	n, err := Compile(testForm(), "name", nil)
	if err != nil {
		t.Fatalf("Compile(nil) error = %v", err)
	}
	if n != nil {
		t.Errorf("Compile(nil) = %v, want nil", n)
	}
}

func TestCompile_valid(t *testing.T) {
	raw := &model.ConditionNode{
		Operator: model.GroupAnd,
		Children: []model.ConditionNode{
			{Field: "age", Operator: OpGreaterThan, Value: 17},
			{
				Operator: model.GroupOr,
				Children: []model.ConditionNode{
					{Field: "agree", FieldType: model.FieldCheckbox, Operator: OpIsChecked},
					{Field: "name", Operator: OpIsNotEmpty},
				},
			},
		},
	}

	got, err := Compile(testForm(), "name", raw)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	want := &Group{Op: model.GroupAnd, Children: []Node{
		&Leaf{FormID: "signup", FieldID: "age", FieldType: model.FieldNumber, Op: OpGreaterThan, Value: 17},
		&Group{Op: model.GroupOr, Children: []Node{
			&Leaf{FormID: "signup", FieldID: "agree", FieldType: model.FieldCheckbox, Op: OpIsChecked},
			&Leaf{FormID: "signup", FieldID: "name", FieldType: model.FieldText, Op: OpIsNotEmpty},
		}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compile() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_ruleErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      model.ConditionNode
		wantPath string
	}{
		{
			name:     "unknown group operator",
			raw:      model.ConditionNode{Operator: "xor", Children: []model.ConditionNode{{Field: "name", Operator: OpIsEmpty}}},
			wantPath: "conditions",
		},
		{
			name:     "empty group",
			raw:      model.ConditionNode{Operator: model.GroupAnd},
			wantPath: "conditions",
		},
		{
			name: "unknown leaf operator",
			raw: model.ConditionNode{Operator: model.GroupAnd, Children: []model.ConditionNode{
				{Field: "name", Operator: OpIsEmpty},
				{Field: "name", Operator: "sounds_like", Value: "x"},
			}},
			wantPath: "conditions.children[1]",
		},
		{
			name:     "operator not valid for type",
			raw:      model.ConditionNode{Field: "agree", Operator: OpGreaterThan, Value: 1},
			wantPath: "conditions",
		},
		{
			name:     "unknown target field",
			raw:      model.ConditionNode{Field: "missing", Operator: OpIsEmpty},
			wantPath: "conditions",
		},
		{
			name:     "declared type disagrees with form",
			raw:      model.ConditionNode{Field: "age", FieldType: model.FieldText, Operator: OpIsEmpty},
			wantPath: "conditions",
		},
		{
			name:     "leaf without operator",
			raw:      model.ConditionNode{Field: "age"},
			wantPath: "conditions",
		},
		{
			name:     "page break is not a condition target",
			raw:      model.ConditionNode{Field: "break", Operator: OpIsEmpty},
			wantPath: "conditions",
		},
		{
			name: "leaf with children",
			raw: model.ConditionNode{Field: "age", Operator: OpIsEmpty, Children: []model.ConditionNode{
				{Field: "name", Operator: OpIsEmpty},
			}},
			wantPath: "conditions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			n, err := Compile(testForm(), "name", &raw)
			if err == nil {
				t.Fatalf("Compile() = %v, want error", n)
			}
			var re *model.RuleError
			if !errors.As(err, &re) {
				t.Fatalf("error type = %T, want *model.RuleError", err)
			}
			if re.FieldID != "name" {
				t.Errorf("FieldID = %q, want name", re.FieldID)
			}
			if re.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", re.Path, tt.wantPath)
			}
		})
	}
}

func TestSupportsOperator(t *testing.T) {
	tests := []struct {
		ft   model.FieldType
		op   string
		want bool
	}{
		{model.FieldEmail, OpMatchesRegex, true},
		{model.FieldNumber, OpLengthEquals, true},
		{model.FieldNumber, OpContains, false},
		{model.FieldSelect, OpContains, false},
		{model.FieldMultiSelect, OpContains, true},
		{model.FieldSignature, OpEquals, false},
		{model.FieldPayment, OpPaid, true},
		{model.FieldDate, OpNextYear, true},
		{model.FieldPageBreak, OpIsEmpty, false},
	}
	for _, tt := range tests {
		if got := SupportsOperator(tt.ft, tt.op); got != tt.want {
			t.Errorf("SupportsOperator(%s, %s) = %v, want %v", tt.ft, tt.op, got, tt.want)
		}
	}
}
