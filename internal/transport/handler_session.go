package transport

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/logic"
	"github.com/pitabwire/formengine/internal/observability"
	"github.com/pitabwire/formengine/internal/session"
	"github.com/pitabwire/formengine/model"
)

type sessionKey struct{}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}

// sessionView is the JSON rendering of a session.
type sessionView struct {
	ID             string                  `json:"id"`
	FormID         string                  `json:"form_id"`
	Mode           string                  `json:"mode"`
	State          model.SessionState      `json:"state"`
	PageCount      int                     `json:"page_count"`
	Fields         []logic.FieldState      `json:"fields"`
	Answers        model.Answers           `json:"answers"`
	Errors         map[string]string       `json:"errors,omitempty"`
	ElapsedSeconds int                     `json:"elapsed_seconds,omitempty"`
	HasPayment     bool                    `json:"has_payment"`
	Result         *model.SubmissionResult `json:"result,omitempty"`
}

func viewOf(ctx context.Context, s *session.Session) sessionView {
	v := sessionView{
		ID:             s.ID(),
		FormID:         s.Form().ID,
		Mode:           s.Mode().Name,
		State:          s.State(),
		PageCount:      s.PageCount(ctx),
		Fields:         s.CurrentPageFields(ctx),
		Answers:        s.Answers(),
		Errors:         s.Errors(),
		ElapsedSeconds: s.ElapsedSeconds(),
		HasPayment:     s.CurrentPageHasPayment(ctx),
	}
	if v.Fields == nil {
		v.Fields = []logic.FieldState{}
	}
	if res, ok := s.Result(); ok {
		v.Result = &res
	}
	return v
}

type createSessionRequest struct {
	Mode         string        `json:"mode"`
	DefaultData  model.Answers `json:"default_data"`
	SubmissionID string        `json:"submission_id"`
	ClientKey    string        `json:"client_key"`
	Prefill      url.Values    `json:"prefill"`
	CaptchaToken string        `json:"captcha_token"`
}

type createSessionResponse struct {
	Session   sessionView `json:"session"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// createSession starts a session for a form. Query parameters are merged
// into the prefill values of the body.
func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	form, err := h.lookupForm(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Mode == "" {
		req.Mode = h.deps.Config.Session.DefaultMode
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		WriteError(w, model.NewBadRequestError(err.Error()))
		return
	}

	prefill := url.Values{}
	for k, vs := range req.Prefill {
		prefill[k] = vs
	}
	for k, vs := range r.URL.Query() {
		prefill[k] = vs
	}

	s, err := h.deps.Sessions.Create(r.Context(), form, mode, session.Options{
		DefaultData:  req.DefaultData,
		SubmissionID: req.SubmissionID,
		ClientKey:    req.ClientKey,
		Prefill:      prefill,
		CaptchaToken: req.CaptchaToken,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	subject := req.ClientKey
	if subject == "" {
		subject = "anonymous"
	}
	token, exp, err := h.deps.Tokens.Issue(subject, s.ID(), form.ID)
	if err != nil {
		h.deps.Sessions.Delete(s.ID())
		observability.RequestLogger(r.Context(), h.deps.Logger).Error("issue session token", zap.Error(err))
		WriteError(w, model.NewInternalError())
		return
	}

	WriteJSON(w, http.StatusCreated, createSessionResponse{
		Session:   viewOf(r.Context(), s),
		Token:     token,
		ExpiresAt: exp,
	})
}

// bindSession resolves the session in the path and checks it is the one
// the token was issued for.
func (h *handlers) bindSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionId")
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil || rctx.SessionID != id {
			WriteError(w, model.NewUnauthorizedError("Token is not valid for this session"))
			return
		}
		s, err := h.deps.Sessions.Get(id)
		if err != nil {
			WriteError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, viewOf(r.Context(), sessionFrom(r.Context())))
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	h.deps.Sessions.Delete(sessionFrom(r.Context()).ID())
	w.WriteHeader(http.StatusNoContent)
}

type answerRequest struct {
	Value any `json:"value"`
}

func (h *handlers) setAnswer(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := s.SetAnswer(r.Context(), chi.URLParam(r, "fieldId"), req.Value); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(r.Context(), s))
}

func (h *handlers) nextPage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	if err := s.NextPage(r.Context()); err != nil {
		h.recordValidation(s, err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(r.Context(), s))
}

func (h *handlers) previousPage(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	if !s.PreviousPage(r.Context()) {
		WriteError(w, model.NewConflictError("Already on the first page"))
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(r.Context(), s))
}

type submitResponse struct {
	Result  model.SubmissionResult `json:"result"`
	Session sessionView            `json:"session"`
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	res, err := s.Submit(r.Context())
	if err != nil {
		h.recordValidation(s, err)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, submitResponse{Result: res, Session: viewOf(r.Context(), s)})
}

func (h *handlers) restart(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	if err := s.Restart(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(r.Context(), s))
}

func (h *handlers) recordValidation(s *session.Session, err error) {
	if h.deps.Metrics == nil || model.CodeOf(err) != model.ErrValidationError {
		return
	}
	n := len(s.Errors())
	if n == 0 {
		n = 1
	}
	h.deps.Metrics.RecordValidationFailures(s.Form().ID, n)
}
