// Package condition compiles authored condition trees into a typed form and
// evaluates them against an answer set with per-field-type comparators.
package condition

import (
	"fmt"

	"github.com/pitabwire/formengine/model"
)

// Node is a compiled condition tree: either a *Group or a *Leaf.
type Node interface {
	node()
}

// Group combines its children with "and" or "or". It always has at least
// one child.
type Group struct {
	Op       string
	Children []Node
}

// Leaf compares the answer of one field against an authored value.
type Leaf struct {
	FormID    string
	FieldID   string
	FieldType model.FieldType
	Op        string
	Value     any
}

func (*Group) node() {}
func (*Leaf) node()  {}

// Compile checks a raw tree against the form's fields and returns its typed
// form. ownerID is the field the logic belongs to and is only used in error
// reports. A nil raw tree compiles to a nil Node.
func Compile(form model.FormDefinition, ownerID string, raw *model.ConditionNode) (Node, error) {
	if raw == nil {
		return nil, nil
	}
	types := make(map[string]model.FieldType, len(form.Fields))
	for _, f := range form.Fields {
		types[f.ID] = f.Type
	}
	c := compiler{formID: form.ID, ownerID: ownerID, types: types}
	return c.compile("conditions", *raw)
}

type compiler struct {
	formID  string
	ownerID string
	types   map[string]model.FieldType
}

func (c *compiler) fail(path, format string, args ...any) error {
	return &model.RuleError{
		FieldID: c.ownerID,
		Path:    path,
		Reason:  fmt.Sprintf(format, args...),
	}
}

func (c *compiler) compile(path string, raw model.ConditionNode) (Node, error) {
	if raw.Field == "" {
		return c.compileGroup(path, raw)
	}
	if len(raw.Children) > 0 {
		return nil, c.fail(path, "node has both field %q and children", raw.Field)
	}
	return c.compileLeaf(path, raw)
}

func (c *compiler) compileGroup(path string, raw model.ConditionNode) (Node, error) {
	if raw.Operator != model.GroupAnd && raw.Operator != model.GroupOr {
		return nil, c.fail(path, "unknown group operator %q", raw.Operator)
	}
	if len(raw.Children) == 0 {
		return nil, c.fail(path, "group has no children")
	}
	g := &Group{Op: raw.Operator, Children: make([]Node, 0, len(raw.Children))}
	for i, child := range raw.Children {
		n, err := c.compile(fmt.Sprintf("%s.children[%d]", path, i), child)
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, n)
	}
	return g, nil
}

func (c *compiler) compileLeaf(path string, raw model.ConditionNode) (Node, error) {
	if raw.Operator == "" {
		return nil, c.fail(path, "leaf on field %q has no operator", raw.Field)
	}
	ft, ok := c.types[raw.Field]
	if !ok {
		return nil, c.fail(path, "unknown target field %q", raw.Field)
	}
	if raw.FieldType != "" && raw.FieldType != ft {
		return nil, c.fail(path, "field %q is %s, not %s", raw.Field, ft, raw.FieldType)
	}
	if !SupportsOperator(ft, raw.Operator) {
		return nil, c.fail(path, "operator %q is not valid for %s field %q", raw.Operator, ft, raw.Field)
	}
	return &Leaf{
		FormID:    c.formID,
		FieldID:   raw.Field,
		FieldType: ft,
		Op:        raw.Operator,
		Value:     raw.Value,
	}, nil
}
