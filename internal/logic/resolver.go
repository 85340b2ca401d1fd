// Package logic derives the effective required, hidden and disabled state of
// form fields from their base flags and conditional logic.
package logic

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/model"
)

// FieldState is the resolved state of one field.
type FieldState struct {
	ID       string          `json:"id"`
	Type     model.FieldType `json:"type"`
	Required bool            `json:"required"`
	Hidden   bool            `json:"hidden"`
	Disabled bool            `json:"disabled"`
}

// Resolver resolves field properties for one form. Logic trees are compiled
// once on construction; a field whose tree fails to compile is treated as
// having no logic.
type Resolver struct {
	form      model.FormDefinition
	evaluator *condition.Evaluator
	trees     map[string]condition.Node
	ruleErrs  []error
	logger    *zap.Logger
}

// NewResolver compiles the logic of every field in form.
func NewResolver(form model.FormDefinition, evaluator *condition.Evaluator, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if evaluator == nil {
		evaluator = condition.NewEvaluator(condition.WithLogger(logger))
	}
	r := &Resolver{
		form:      form,
		evaluator: evaluator,
		trees:     make(map[string]condition.Node),
		logger:    logger,
	}
	for _, f := range form.Fields {
		if f.Logic == nil || f.Logic.Conditions == nil {
			continue
		}
		if err := checkActions(f); err != nil {
			r.reject(f.ID, err)
			continue
		}
		tree, err := condition.Compile(form, f.ID, f.Logic.Conditions)
		if err != nil {
			r.reject(f.ID, err)
			continue
		}
		r.trees[f.ID] = tree
	}
	return r
}

func (r *Resolver) reject(fieldID string, err error) {
	r.ruleErrs = append(r.ruleErrs, err)
	r.logger.Warn("logic: ignoring malformed field logic",
		zap.String("form_id", r.form.ID),
		zap.String("field_id", fieldID),
		zap.Error(err),
	)
}

func checkActions(f model.FieldDefinition) error {
	for _, a := range f.Logic.Actions {
		if !model.KnownActions[a] {
			return &model.RuleError{FieldID: f.ID, Path: "actions", Reason: fmt.Sprintf("unknown action %q", a)}
		}
	}
	return nil
}

// Form returns the form the resolver was built for.
func (r *Resolver) Form() model.FormDefinition {
	return r.form
}

// RuleErrors returns the compile errors of rejected logic blocks.
func (r *Resolver) RuleErrors() []error {
	return r.ruleErrs
}

// conditionsMet evaluates the field's compiled tree. Fields without valid
// logic report ok=false.
func (r *Resolver) conditionsMet(ctx context.Context, f model.FieldDefinition, answers model.Answers) (met, ok bool) {
	tree, ok := r.trees[f.ID]
	if !ok {
		return false, false
	}
	return r.evaluator.Evaluate(ctx, tree, answers), true
}

// resolve applies the shared property algorithm. relax are the actions that
// turn a true base flag off, tighten those that turn a false base flag on.
func (r *Resolver) resolve(ctx context.Context, f model.FieldDefinition, base *bool, answers model.Answers, relax []string, tighten []string) bool {
	// 1. Undeclared base flag is never logic driven.
	if base == nil {
		return false
	}

	// 2. No usable logic: base flag.
	met, ok := r.conditionsMet(ctx, f, answers)
	if !ok || !met {
		return *base
	}

	// 3. Conditions met on a true base: only relaxing actions flip it.
	if *base && f.Logic.HasAction(relax...) {
		return false
	}

	// 4. Conditions met on a false base: only tightening actions flip it.
	if !*base && f.Logic.HasAction(tighten...) {
		return true
	}

	// 5. Otherwise the base flag stands.
	return *base
}

// IsRequired reports whether the field must be answered.
func (r *Resolver) IsRequired(ctx context.Context, f model.FieldDefinition, answers model.Answers) bool {
	return r.resolve(ctx, f, f.Required, answers,
		[]string{model.ActionMakeOptional, model.ActionHideBlock},
		[]string{model.ActionRequireAnswer},
	)
}

// IsHidden reports whether the field is hidden.
func (r *Resolver) IsHidden(ctx context.Context, f model.FieldDefinition, answers model.Answers) bool {
	return r.resolve(ctx, f, f.Hidden, answers,
		[]string{model.ActionShowBlock},
		[]string{model.ActionHideBlock},
	)
}

// IsDisabled reports whether the field is read-only.
func (r *Resolver) IsDisabled(ctx context.Context, f model.FieldDefinition, answers model.Answers) bool {
	return r.resolve(ctx, f, f.Disabled, answers,
		[]string{model.ActionEnableBlock},
		[]string{model.ActionDisableBlock},
	)
}

// Overrides are applied on top of resolved states by session modes.
type Overrides struct {
	ExposeHidden  bool
	ForceDisabled bool
}

// States resolves every field of the form.
func (r *Resolver) States(ctx context.Context, answers model.Answers, o Overrides) []FieldState {
	states := make([]FieldState, 0, len(r.form.Fields))
	for _, f := range r.form.Fields {
		s := FieldState{
			ID:       f.ID,
			Type:     f.Type,
			Required: r.IsRequired(ctx, f, answers),
			Hidden:   r.IsHidden(ctx, f, answers),
			Disabled: r.IsDisabled(ctx, f, answers),
		}
		if o.ExposeHidden {
			s.Hidden = false
		}
		if o.ForceDisabled {
			s.Disabled = true
		}
		states = append(states, s)
	}
	return states
}
