// Package structure partitions a form's field list into navigable pages.
// A page ends at every page break that is not hidden; the break belongs to
// the page it closes.
package structure

import "github.com/pitabwire/formengine/model"

// Boundary is the inclusive range of field indices covered by a page.
type Boundary struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of fields in the range.
func (b Boundary) Len() int {
	return b.End - b.Start + 1
}

// Pages is an immutable page model. It always holds at least one page.
type Pages struct {
	fields []model.FieldDefinition
	bounds []Boundary
}

// Paginate groups fields into pages. hidden reports whether the page break
// at index i is currently hidden; it is only called for page breaks.
func Paginate(fields []model.FieldDefinition, hidden func(i int, f model.FieldDefinition) bool) *Pages {
	p := &Pages{fields: fields}
	start := 0
	for i, f := range fields {
		if f.Type != model.FieldPageBreak || hidden(i, f) {
			continue
		}
		p.bounds = append(p.bounds, Boundary{Start: start, End: i})
		start = i + 1
	}
	if start < len(fields) || len(p.bounds) == 0 {
		// Empty forms get a single empty page, End < Start.
		p.bounds = append(p.bounds, Boundary{Start: start, End: len(fields) - 1})
	}
	return p
}

// Count returns the number of pages.
func (p *Pages) Count() int {
	return len(p.bounds)
}

// Fields returns the fields of page i, or nil when i is out of range.
func (p *Pages) Fields(i int) []model.FieldDefinition {
	b, ok := p.Boundaries(i)
	if !ok || b.Len() <= 0 {
		return nil
	}
	return p.fields[b.Start : b.End+1]
}

// Boundaries returns the field range of page i.
func (p *Pages) Boundaries(i int) (Boundary, bool) {
	if i < 0 || i >= len(p.bounds) {
		return Boundary{}, false
	}
	return p.bounds[i], true
}

// PageForFieldIndex returns the page that holds the field at index i.
func (p *Pages) PageForFieldIndex(i int) (int, bool) {
	if i < 0 || i >= len(p.fields) {
		return 0, false
	}
	for page, b := range p.bounds {
		if i >= b.Start && i <= b.End {
			return page, true
		}
	}
	return 0, false
}

// PageForField returns the page that holds the field with the given id.
func (p *Pages) PageForField(id string) (int, bool) {
	for i, f := range p.fields {
		if f.ID == id {
			return p.PageForFieldIndex(i)
		}
	}
	return 0, false
}

// PaymentBlockOf returns the first payment field on page i.
func (p *Pages) PaymentBlockOf(i int) (model.FieldDefinition, bool) {
	for _, f := range p.Fields(i) {
		if f.Type == model.FieldPayment {
			return f, true
		}
	}
	return model.FieldDefinition{}, false
}

// HasPaymentBlock reports whether any page holds a payment field.
func (p *Pages) HasPaymentBlock() bool {
	for i := range p.bounds {
		if _, ok := p.PaymentBlockOf(i); ok {
			return true
		}
	}
	return false
}

// IsLast reports whether i is the last page.
func (p *Pages) IsLast(i int) bool {
	return i >= len(p.bounds)-1
}
