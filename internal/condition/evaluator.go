package condition

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/model"
)

// Recorder receives one call per evaluated leaf.
type Recorder interface {
	RecordConditionEvaluation(family string, result bool)
}

// Evaluator evaluates compiled condition trees. It is safe for concurrent
// use and holds no per-evaluation state apart from a compiled-regex cache.
type Evaluator struct {
	now      func() time.Time
	index    model.SubmissionIndex
	logger   *zap.Logger
	recorder Recorder

	regexCache sync.Map // pattern -> *regexp.Regexp or nil when invalid
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock sets the source of "now" for rolling date windows.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithSubmissionIndex sets the store consulted by exists_in_submissions.
func WithSubmissionIndex(idx model.SubmissionIndex) Option {
	return func(e *Evaluator) { e.index = idx }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithRecorder sets a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Evaluator) { e.recorder = r }
}

// NewEvaluator creates an Evaluator. Without WithClock it uses time.Now.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate reports whether the tree holds for the given answers. A nil tree
// is false.
func (e *Evaluator) Evaluate(ctx context.Context, n Node, answers model.Answers) bool {
	switch t := n.(type) {
	case *Group:
		return e.evaluateGroup(ctx, t, answers)
	case *Leaf:
		result := e.evaluateLeaf(ctx, t, answers)
		if e.recorder != nil {
			e.recorder.RecordConditionEvaluation(string(FamilyOf(t.FieldType)), result)
		}
		return result
	}
	return false
}

func (e *Evaluator) evaluateGroup(ctx context.Context, g *Group, answers model.Answers) bool {
	if g == nil || len(g.Children) == 0 {
		return false
	}
	switch g.Op {
	case model.GroupAnd:
		for _, c := range g.Children {
			if !e.Evaluate(ctx, c, answers) {
				return false
			}
		}
		return true
	case model.GroupOr:
		for _, c := range g.Children {
			if e.Evaluate(ctx, c, answers) {
				return true
			}
		}
		return false
	}
	return false
}

func (e *Evaluator) evaluateLeaf(ctx context.Context, l *Leaf, answers model.Answers) bool {
	if l == nil {
		return false
	}
	answer := answers[l.FieldID]

	switch FamilyOf(l.FieldType) {
	case FamilyText:
		return e.compareText(ctx, l, answer)
	case FamilyNumber:
		return compareNumber(l.Op, answer, l.Value)
	case FamilyCheckbox:
		return compareCheckbox(l.Op, answer)
	case FamilySelect:
		return compareSelect(l.Op, answer, l.Value)
	case FamilyDate:
		return compareDate(l.Op, answer, l.Value, e.now())
	case FamilyMultiSelect:
		return compareMultiSelect(l.Op, answer, l.Value)
	case FamilyPresence:
		return comparePresence(l.Op, answer)
	case FamilyMatrix:
		return compareMatrix(l.Op, answer, l.Value)
	case FamilyPayment:
		return comparePayment(l.Op, answer)
	}

	e.logger.Warn("condition: leaf targets a field type with no comparator",
		zap.String("field_id", l.FieldID),
		zap.String("field_type", string(l.FieldType)),
	)
	return false
}

// regex returns the compiled pattern, or nil when it does not compile.
func (e *Evaluator) regex(pattern string) *regexp.Regexp {
	if cached, ok := e.regexCache.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		e.logger.Debug("condition: invalid regex pattern",
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		e.regexCache.Store(pattern, (*regexp.Regexp)(nil))
		return nil
	}
	e.regexCache.Store(pattern, re)
	return re
}
