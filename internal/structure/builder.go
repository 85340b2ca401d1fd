package structure

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/model"
)

// HiddenFunc resolves whether a field is hidden for the given answers.
type HiddenFunc func(ctx context.Context, f model.FieldDefinition, answers model.Answers) bool

// Builder computes pages for one form and memoizes the result. The page
// model is rebuilt only when the field list or the visibility of a page
// break changes.
type Builder struct {
	checksum string
	hidden   HiddenFunc
	logger   *zap.Logger

	mu    sync.Mutex
	sig   string
	pages *Pages
}

// NewBuilder creates a builder for the form identified by checksum.
func NewBuilder(checksum string, hidden HiddenFunc, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{checksum: checksum, hidden: hidden, logger: logger}
}

// Build returns the page model for fields under answers.
func (b *Builder) Build(ctx context.Context, fields []model.FieldDefinition, answers model.Answers) *Pages {
	// 1. Resolve break visibility once; it is both the memo key and the
	// input to pagination.
	breaks := make(map[int]bool)
	var sig strings.Builder
	sig.WriteString(b.checksum)
	sig.WriteByte('|')
	sig.WriteString(strconv.Itoa(len(fields)))
	sig.WriteByte('|')
	for i, f := range fields {
		if f.Type != model.FieldPageBreak {
			continue
		}
		h := b.hidden(ctx, f, answers)
		breaks[i] = h
		if h {
			sig.WriteByte('0')
		} else {
			sig.WriteByte('1')
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// 2. Reuse the previous model when nothing structural changed.
	if b.pages != nil && b.sig == sig.String() {
		return b.pages
	}

	// 3. Rebuild.
	b.pages = Paginate(fields, func(i int, _ model.FieldDefinition) bool { return breaks[i] })
	b.sig = sig.String()
	b.logger.Debug("structure: pages rebuilt",
		zap.String("checksum", b.checksum),
		zap.Int("fields", len(fields)),
		zap.Int("pages", b.pages.Count()),
	)
	return b.pages
}
