package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/formengine/internal/logic"
	"github.com/pitabwire/formengine/internal/session"
	"github.com/pitabwire/formengine/internal/structure"
	"github.com/pitabwire/formengine/model"
)

// handlers holds the route handlers and their dependencies.
type handlers struct {
	deps Dependencies
}

type formSummary struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

func (h *handlers) listForms(w http.ResponseWriter, _ *http.Request) {
	forms := h.deps.Forms.AllForms()
	out := make([]formSummary, 0, len(forms))
	for _, f := range forms {
		out = append(out, formSummary{ID: f.ID, Title: f.Title})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"forms": out})
}

func (h *handlers) lookupForm(r *http.Request) (model.FormDefinition, error) {
	formID := chi.URLParam(r, "formId")
	form, ok := h.deps.Forms.GetForm(formID)
	if !ok {
		return model.FormDefinition{}, model.NewNotFoundError("Form not found: " + formID)
	}
	return form, nil
}

func (h *handlers) getForm(w http.ResponseWriter, r *http.Request) {
	form, err := h.lookupForm(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, form)
}

type evaluateRequest struct {
	Answers model.Answers `json:"answers"`
	Mode    string        `json:"mode"`
}

type evaluateResponse struct {
	FormID string             `json:"form_id"`
	Fields []logic.FieldState `json:"fields"`
	Pages  [][]string         `json:"pages"`
}

// evaluateForm resolves field states and pagination for a set of answers
// without creating a session.
func (h *handlers) evaluateForm(w http.ResponseWriter, r *http.Request) {
	form, err := h.lookupForm(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		WriteError(w, model.NewBadRequestError(err.Error()))
		return
	}
	if req.Answers == nil {
		req.Answers = model.Answers{}
	}

	resolver := logic.NewResolver(form, h.deps.Evaluator, h.deps.Logger)
	hidden := func(ctx context.Context, f model.FieldDefinition, answers model.Answers) bool {
		return !mode.ExposeHidden && resolver.IsHidden(ctx, f, answers)
	}
	pages := structure.NewBuilder(form.Checksum, hidden, h.deps.Logger).Build(r.Context(), form.Fields, req.Answers)

	WriteJSON(w, http.StatusOK, evaluateResponse{
		FormID: form.ID,
		Fields: resolver.States(r.Context(), req.Answers, logic.Overrides{
			ExposeHidden:  mode.ExposeHidden,
			ForceDisabled: mode.ForceDisabled,
		}),
		Pages: pageIDs(pages),
	})
}

func pageIDs(p *structure.Pages) [][]string {
	out := make([][]string, 0, p.Count())
	for i := 0; i < p.Count(); i++ {
		fields := p.Fields(i)
		ids := make([]string, 0, len(fields))
		for _, f := range fields {
			ids = append(ids, f.ID)
		}
		out = append(out, ids)
	}
	return out
}
