// Package session drives a multi-step form session: page navigation,
// validation, payment, submission and restart, with at most one page change
// or submission in flight at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/internal/logic"
	"github.com/pitabwire/formengine/internal/observability"
	"github.com/pitabwire/formengine/internal/persistence"
	"github.com/pitabwire/formengine/internal/structure"
	"github.com/pitabwire/formengine/model"
)

// Transition names used in logs, spans and metrics.
const (
	TransitionInitialize = "initialize"
	TransitionNext       = "next_page"
	TransitionPrevious   = "previous_page"
	TransitionSubmit     = "submit"
	TransitionRestart    = "restart"
)

// Recorder receives transition outcomes.
type Recorder interface {
	RecordSessionTransition(transition, outcome string)
}

// Collaborators are the external services a session calls. Any of them may
// be nil; the matching step is then skipped or fails as documented on the
// transition.
type Collaborators struct {
	Validator model.FieldValidator
	Payments  model.PaymentProvider
	Submitter model.Submitter
	Fetcher   model.SubmissionFetcher
	Captcha   model.CaptchaProvider
	Partial   model.PartialSubmitter
	Drafts    persistence.DraftStore
}

// Options are the inputs of Initialize, in priority order.
type Options struct {
	// DefaultData, when non-empty, is used as the answer set as is.
	DefaultData model.Answers
	// SubmissionID selects an existing submission to edit.
	SubmissionID string
	// ClientKey identifies the local draft of this client.
	ClientKey string
	// Prefill holds URL parameters merged over static field prefill.
	Prefill url.Values
	// CaptchaToken is a token obtained by the hosting surface.
	CaptchaToken string
}

// Config holds session settings.
type Config struct {
	Mode             Mode
	AutosaveInterval time.Duration
	DraftTTL         time.Duration
	TimerTick        time.Duration
}

// Session is one respondent's pass through a form.
type Session struct {
	id        string
	form      model.FormDefinition
	mode      Mode
	collab    Collaborators
	evaluator *condition.Evaluator
	resolver  *logic.Resolver
	builder   *structure.Builder
	timer     *Timer
	partial   *persistence.PartialSync
	logger    *zap.Logger
	recorder  Recorder
	cfg       Config

	mu           sync.Mutex
	state        model.SessionState
	answers      model.Answers
	errors       map[string]string
	epoch        uint64
	submissionID string
	captchaToken string
	result       *model.SubmissionResult
	autosaver    *persistence.Autosaver
	lastActive   time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithEvaluator sets the condition evaluator used by the resolver.
func WithEvaluator(e *condition.Evaluator) Option {
	return func(s *Session) { s.evaluator = e }
}

// New creates a session for form. Call Initialize before use.
func New(form model.FormDefinition, collab Collaborators, cfg Config, opts ...Option) *Session {
	if cfg.Mode.Name == "" {
		cfg.Mode = ModeDefault
	}
	s := &Session{
		id:      uuid.NewString(),
		form:    form,
		mode:    cfg.Mode,
		collab:  collab,
		cfg:     cfg,
		logger:  zap.NewNop(),
		answers: model.Answers{},
		errors:  map[string]string{},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("session_id", s.id), zap.String("form_id", form.ID))
	s.resolver = logic.NewResolver(form, s.evaluator, s.logger)
	s.builder = structure.NewBuilder(form.Checksum, s.breakHidden, s.logger)
	s.partial = persistence.NewPartialSync(form.ID, collab.Partial, s.logger)
	s.timer = NewTimer(cfg.TimerTick, s.onTick)
	s.lastActive = time.Now()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Form returns the session's form definition.
func (s *Session) Form() model.FormDefinition { return s.form }

// Mode returns the session's mode.
func (s *Session) Mode() Mode { return s.mode }

func (s *Session) breakHidden(ctx context.Context, f model.FieldDefinition, answers model.Answers) bool {
	if s.mode.ExposeHidden {
		return false
	}
	return s.resolver.IsHidden(ctx, f, answers)
}

func (s *Session) pages(ctx context.Context, answers model.Answers) *structure.Pages {
	return s.builder.Build(ctx, s.form.Fields, answers)
}

func (s *Session) autosaveEnabled() bool {
	return s.mode.Autosave && s.form.AutoSave && s.collab.Drafts != nil
}

// --- transitions ---

// Initialize resets the session and loads its answers from, in priority
// order, default data, an editable existing submission, the local draft, or
// URL and static prefill values.
func (s *Session) Initialize(ctx context.Context, opts Options) (err error) {
	ctx, span := observability.StartSpan(ctx, "session.initialize", s.spanAttrs(TransitionInitialize)...)
	defer func() { s.finish(span, TransitionInitialize, err) }()

	// 1. Stop anything left from a previous run.
	s.timer.Stop()
	s.mu.Lock()
	s.epoch++
	s.state = model.SessionState{}
	s.errors = map[string]string{}
	s.result = nil
	s.submissionID = ""
	s.captchaToken = opts.CaptchaToken
	old := s.autosaver
	s.autosaver = nil
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	var (
		answers model.Answers
		elapsed int
		hash    string
		source  string
	)

	// 2. Resolve the answer source.
	var drafts *persistence.Autosaver
	if s.autosaveEnabled() && opts.ClientKey != "" {
		aopts := []persistence.AutosaveOption{
			persistence.WithTTL(s.cfg.DraftTTL),
			persistence.WithAutosaveLogger(s.logger),
		}
		if s.cfg.AutosaveInterval > 0 {
			aopts = append(aopts, persistence.WithInterval(s.cfg.AutosaveInterval))
		}
		if r, ok := s.recorder.(persistence.Recorder); ok {
			aopts = append(aopts, persistence.WithAutosaveRecorder(r))
		}
		drafts = persistence.NewAutosaver(s.collab.Drafts, persistence.DraftKey(s.form.ID, opts.ClientKey), aopts...)
	}

	switch {
	case len(opts.DefaultData) > 0:
		answers, source = opts.DefaultData.Clone(), "default_data"

	case opts.SubmissionID != "" && s.form.EditableSubmissions && s.collab.Fetcher != nil:
		fetched, ferr := s.collab.Fetcher.FetchSubmission(ctx, s.form.ID, opts.SubmissionID)
		if ferr != nil {
			return fmt.Errorf("fetch submission %s: %w", opts.SubmissionID, ferr)
		}
		answers, source = fetched.Clone(), "submission"
		s.mu.Lock()
		s.submissionID = opts.SubmissionID
		s.mu.Unlock()

	default:
		if drafts != nil {
			d, found, derr := s.collab.Drafts.Load(ctx, drafts.Key())
			if derr != nil {
				s.logger.Warn("session: draft load failed", zap.Error(derr))
			}
			if found {
				answers, elapsed, hash, source = d.Answers.Clone(), d.ElapsedSeconds, d.SubmissionHash, "draft"
			}
		}
		if answers == nil {
			answers, source = PrefillAnswers(s.form, opts.Prefill), "prefill"
		}
	}

	// 3. Commit.
	s.mu.Lock()
	s.answers = answers
	s.autosaver = drafts
	s.lastActive = time.Now()
	s.mu.Unlock()

	s.partial.Resume()
	if hash != "" {
		s.partial.SetHash(hash)
	} else {
		s.partial.Reset()
	}

	// 4. Start the completion timer.
	s.timer.Reset(elapsed)
	if s.form.TrackCompletionTime {
		s.timer.Start()
	}

	s.logger.Info("session: initialized", zap.String("source", source), zap.Int("answers", len(answers)))
	return nil
}

// begin claims the processing flag. It returns the epoch the transition
// runs under and a snapshot of the answers and page.
func (s *Session) begin() (epoch uint64, answers model.Answers, page int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Submitted {
		return 0, nil, 0, model.NewAlreadySubmittedError()
	}
	if s.state.Processing {
		return 0, nil, 0, model.NewTransitionInProgressError()
	}
	s.state.Processing = true
	s.lastActive = time.Now()
	return s.epoch, s.answers.Clone(), s.state.PageIndex, nil
}

// errStale is returned when a restart ran while a transition was in flight.
func errStale() error {
	return model.NewConflictError("session was restarted while the transition was running")
}

// NextPage validates the current page, settles its payment block and moves
// to the next page.
func (s *Session) NextPage(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "session.next_page", s.spanAttrs(TransitionNext)...)
	defer func() { s.finish(span, TransitionNext, err) }()

	// 1. Claim the processing flag.
	epoch, answers, page, err := s.begin()
	if err != nil {
		return err
	}
	pages := s.pages(ctx, answers)
	fields := pages.Fields(page)

	// 2. Validate the page.
	var fieldErrs map[string]string
	if s.mode.ValidateOnPage {
		fieldErrs, err = s.validate(ctx, inputIDs(fields), answers)
	}

	// 3. Settle the payment block.
	var payment *paymentOutcome
	if err == nil && len(fieldErrs) == 0 {
		payment, err = s.settlePayment(ctx, pages, page, answers)
	}

	// 4. Commit.
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return errStale()
	}
	s.state.Processing = false

	if err != nil || len(fieldErrs) > 0 {
		s.failLocked(pages, fieldErrs)
		s.mu.Unlock()
		if err == nil {
			err = validationError(s.form, fieldErrs)
		}
		return err
	}

	for _, f := range fields {
		delete(s.errors, f.ID)
	}
	if payment != nil {
		s.answers[payment.fieldID] = payment.reference
		s.saveDraftLocked()
	}
	if !pages.IsLast(page) {
		s.state.PageIndex = page + 1
	}
	synced := s.answers.Clone()
	s.mu.Unlock()

	// 5. Sync the partial submission outside the lock; failures are logged.
	if !s.mode.Simulate {
		_ = s.partial.Push(ctx, synced)
	}
	return nil
}

// PreviousPage moves back one page without validation. It does nothing on
// the first page or while a transition is in flight.
func (s *Session) PreviousPage(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Processing || s.state.Submitted || s.state.PageIndex == 0 {
		return false
	}
	s.state.PageIndex--
	s.lastActive = time.Now()
	s.record(TransitionPrevious, "ok")
	s.logger.Debug("session: previous page", zap.Int("page", s.state.PageIndex))
	return true
}

// Submit validates, settles the payment block of the current page, acquires
// a captcha token when required and delivers the answers to the submitter.
func (s *Session) Submit(ctx context.Context) (result model.SubmissionResult, err error) {
	ctx, span := observability.StartSpan(ctx, "session.submit", s.spanAttrs(TransitionSubmit)...)
	defer func() { s.finish(span, TransitionSubmit, err) }()

	// 1. Claim the processing flag.
	epoch, answers, page, err := s.begin()
	if err != nil {
		return model.SubmissionResult{}, err
	}

	// 2. Stop the clock and hold partial syncs.
	elapsed := s.timer.Stop()
	s.partial.Pause()
	pages := s.pages(ctx, answers)

	// 3. Validate every answerable field when submitting early.
	var fieldErrs map[string]string
	if s.mode.ValidateOnSubmit && !pages.IsLast(page) {
		fieldErrs, err = s.validate(ctx, inputIDs(s.form.Fields), answers)
	}

	// 4. Settle the payment block of the current page.
	var payment *paymentOutcome
	if err == nil && len(fieldErrs) == 0 {
		payment, err = s.settlePayment(ctx, pages, page, answers)
		if payment != nil {
			answers[payment.fieldID] = payment.reference
		}
	}

	// 5. Captcha.
	s.mu.Lock()
	token := s.captchaToken
	submissionID := s.submissionID
	s.mu.Unlock()
	if err == nil && len(fieldErrs) == 0 && s.mode.RequireCaptcha && s.form.UseCaptcha && token == "" {
		token, err = s.acquireCaptcha(ctx)
	}

	// 6. Deliver.
	if err == nil && len(fieldErrs) == 0 {
		result, fieldErrs, err = s.deliver(ctx, model.Submission{
			FormID:         s.form.ID,
			SubmissionID:   submissionID,
			SubmissionHash: s.partial.Hash(),
			Answers:        answers,
			CompletionTime: s.completionTime(elapsed),
			CaptchaToken:   token,
		})
	}

	// 7. Commit. A confirmed payment is kept even when delivery fails.
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return model.SubmissionResult{}, errStale()
	}
	s.state.Processing = false
	if payment != nil {
		s.answers[payment.fieldID] = payment.reference
		s.saveDraftLocked()
	}

	if err != nil || len(fieldErrs) > 0 {
		s.failLocked(pages, fieldErrs)
		s.mu.Unlock()
		s.partial.Resume()
		if err == nil {
			err = validationError(s.form, fieldErrs)
		}
		return model.SubmissionResult{}, err
	}

	s.state.Submitted = true
	s.errors = map[string]string{}
	s.result = &result
	drafts := s.autosaver
	s.mu.Unlock()

	if drafts != nil {
		if cerr := drafts.Clear(ctx); cerr != nil {
			s.logger.Warn("session: draft clear failed", zap.Error(cerr))
		}
	}
	s.partial.Reset()
	return result, nil
}

// Restart clears the session back to an empty first page. A transition in
// flight is discarded when it reaches its commit point.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.epoch++
	s.state = model.SessionState{}
	s.answers = model.Answers{}
	s.errors = map[string]string{}
	s.result = nil
	s.lastActive = time.Now()
	drafts := s.autosaver
	s.mu.Unlock()

	if drafts != nil {
		if err := drafts.Clear(ctx); err != nil {
			s.logger.Warn("session: draft clear failed", zap.Error(err))
		}
	}
	s.partial.Reset()
	s.partial.Resume()

	s.timer.Reset(0)
	if s.form.TrackCompletionTime {
		s.timer.Start()
	}

	s.record(TransitionRestart, "ok")
	s.logger.Info("session: restarted")
	return nil
}

// SetAnswer records the answer for a field and schedules an autosave.
func (s *Session) SetAnswer(ctx context.Context, fieldID string, value any) error {
	f, ok := s.form.Field(fieldID)
	if !ok || f.Type.IsLayout() {
		return model.NewBadRequestError(fmt.Sprintf("field %q does not accept answers", fieldID))
	}
	if s.mode.ForceDisabled {
		return model.NewBadRequestError("the form is read-only")
	}

	s.mu.Lock()
	if s.state.Submitted {
		s.mu.Unlock()
		return model.NewAlreadySubmittedError()
	}
	if s.resolver.IsDisabled(ctx, f, s.answers) {
		s.mu.Unlock()
		return model.NewBadRequestError(fmt.Sprintf("field %q is disabled", fieldID))
	}
	s.answers[fieldID] = value
	delete(s.errors, fieldID)
	s.lastActive = time.Now()
	s.saveDraftLocked()
	s.mu.Unlock()
	return nil
}

// Close stops the timer and flushes the pending draft.
func (s *Session) Close() {
	s.timer.Stop()
	s.mu.Lock()
	drafts := s.autosaver
	s.mu.Unlock()
	if drafts != nil {
		drafts.Close()
	}
}

// --- accessors ---

// State returns the navigation state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Answers returns a copy of the answer set.
func (s *Session) Answers() model.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

// Errors returns a copy of the outstanding field errors.
func (s *Session) Errors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// Result returns the submission result once submitted.
func (s *Session) Result() (model.SubmissionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return model.SubmissionResult{}, false
	}
	return *s.result, true
}

// ElapsedSeconds returns the accrued completion time.
func (s *Session) ElapsedSeconds() int {
	return s.timer.Elapsed()
}

// LastActive returns the time of the last call that touched the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Pages returns the page model for the current answers.
func (s *Session) Pages(ctx context.Context) *structure.Pages {
	return s.pages(ctx, s.Answers())
}

// PageCount returns the number of pages.
func (s *Session) PageCount(ctx context.Context) int {
	return s.Pages(ctx).Count()
}

// CurrentPageFields returns the resolved state of the fields on the current
// page, hidden fields excluded.
func (s *Session) CurrentPageFields(ctx context.Context) []logic.FieldState {
	answers := s.Answers()
	page := s.State().PageIndex
	pages := s.pages(ctx, answers)

	o := logic.Overrides{ExposeHidden: s.mode.ExposeHidden, ForceDisabled: s.mode.ForceDisabled}
	var out []logic.FieldState
	for _, fs := range s.resolver.States(ctx, answers, o) {
		if idx := indexOf(s.form.Fields, fs.ID); idx >= 0 {
			if p, ok := pages.PageForFieldIndex(idx); ok && p == page && !fs.Hidden {
				out = append(out, fs)
			}
		}
	}
	return out
}

// FieldStates returns the resolved state of every field.
func (s *Session) FieldStates(ctx context.Context) []logic.FieldState {
	o := logic.Overrides{ExposeHidden: s.mode.ExposeHidden, ForceDisabled: s.mode.ForceDisabled}
	return s.resolver.States(ctx, s.Answers(), o)
}

// CurrentPageHasPayment reports whether the current page holds a payment
// block.
func (s *Session) CurrentPageHasPayment(ctx context.Context) bool {
	_, ok := s.Pages(ctx).PaymentBlockOf(s.State().PageIndex)
	return ok
}

// HasPaymentBlock reports whether any page holds a payment block.
func (s *Session) HasPaymentBlock(ctx context.Context) bool {
	return s.Pages(ctx).HasPaymentBlock()
}

// --- internals ---

func (s *Session) validate(ctx context.Context, ids []string, answers model.Answers) (map[string]string, error) {
	if s.collab.Validator == nil || len(ids) == 0 {
		return nil, nil
	}
	errs, err := s.collab.Validator.Validate(ctx, s.form, ids, answers)
	if err != nil {
		return nil, fmt.Errorf("validate fields: %w", err)
	}
	return errs, nil
}

func (s *Session) acquireCaptcha(ctx context.Context) (string, error) {
	if s.collab.Captcha == nil {
		return "", model.NewTransitionError(model.ErrCaptchaFailed, "captcha is required but no provider is configured")
	}
	token, err := s.collab.Captcha.Token(ctx)
	if err != nil {
		return "", model.NewTransitionError(model.ErrCaptchaFailed, fmt.Sprintf("captcha: %v", err))
	}
	if token == "" {
		return "", model.NewTransitionError(model.ErrCaptchaFailed, "captcha returned an empty token")
	}
	return token, nil
}

// deliver hands the submission to the submitter. A validation envelope from
// the submitter is returned as field errors.
func (s *Session) deliver(ctx context.Context, sub model.Submission) (model.SubmissionResult, map[string]string, error) {
	var (
		result model.SubmissionResult
		err    error
	)
	switch {
	case s.mode.Simulate:
		result = model.SubmissionResult{Message: "Submission simulated"}
	case s.collab.Submitter == nil:
		return result, nil, model.NewTransitionError(model.ErrSubmissionFailed, "no submitter is configured")
	default:
		result, err = s.collab.Submitter.Submit(ctx, sub)
	}
	if err != nil {
		if env, ok := asValidation(err); ok && len(env.Details) > 0 {
			errs := make(map[string]string, len(env.Details))
			for _, d := range env.Details {
				errs[d.Field] = d.Message
			}
			return result, errs, nil
		}
		s.logger.Warn("session: submitter failed",
			zap.Error(err),
			zap.Any("answers", observability.RedactAnswers(sub.Answers)),
		)
		return result, nil, model.NewTransitionError(model.ErrSubmissionFailed, err.Error())
	}
	if result.Redirect == "" {
		result.Redirect = s.form.RedirectURL
	}
	return result, nil, nil
}

// failLocked records field errors, jumps to the first page holding one and
// keeps the clock running. Callers hold mu.
func (s *Session) failLocked(pages *structure.Pages, fieldErrs map[string]string) {
	if s.form.TrackCompletionTime {
		s.timer.Start()
	}
	if len(fieldErrs) == 0 {
		return
	}
	for id, msg := range fieldErrs {
		s.errors[id] = msg
	}
	if p, ok := lowestErrorPage(pages, fieldErrs); ok {
		s.state.PageIndex = p
	}
	s.logger.Debug("session: field errors", zap.Int("count", len(fieldErrs)), zap.Int("page", s.state.PageIndex))
}

func (s *Session) saveDraftLocked() {
	if s.autosaver == nil {
		return
	}
	s.autosaver.Save(model.Draft{
		FormID:         s.form.ID,
		Answers:        s.answers,
		ElapsedSeconds: s.timer.Elapsed(),
		SubmissionHash: s.partial.Hash(),
	})
}

func (s *Session) onTick(int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Submitted {
		s.saveDraftLocked()
	}
}

func (s *Session) completionTime(elapsed int) int {
	if !s.form.TrackCompletionTime {
		return 0
	}
	return elapsed
}

func (s *Session) spanAttrs(transition string) []attribute.KeyValue {
	return []attribute.KeyValue{
		observability.AttrFormID.String(s.form.ID),
		observability.AttrSessionID.String(s.id),
		observability.AttrTransition.String(transition),
	}
}

// finish records the outcome of a transition and ends its span.
func (s *Session) finish(span trace.Span, transition string, err error) {
	outcome := outcomeOf(err)
	s.record(transition, outcome)
	switch outcome {
	case "ok":
		s.logger.Info("session: transition", zap.String("transition", transition), zap.Int("page", s.State().PageIndex))
	case "failed":
		s.logger.Warn("session: transition failed", zap.String("transition", transition), zap.Error(err))
	default:
		s.logger.Debug("session: transition rejected", zap.String("transition", transition), zap.String("outcome", outcome))
	}
	observability.EndSpanWithError(span, err)
}

func outcomeOf(err error) string {
	switch model.CodeOf(err) {
	case "":
		if err == nil {
			return "ok"
		}
		return "failed"
	case model.ErrTransitionInProgress, model.ErrAlreadySubmitted, model.ErrConflict:
		return "rejected"
	case model.ErrValidationError:
		return "invalid"
	}
	return "failed"
}

func (s *Session) record(transition, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordSessionTransition(transition, outcome)
	}
}

// inputIDs returns the ids of answerable, non-payment fields.
func inputIDs(fields []model.FieldDefinition) []string {
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Type.IsLayout() || f.Type == model.FieldPayment {
			continue
		}
		ids = append(ids, f.ID)
	}
	return ids
}

func lowestErrorPage(pages *structure.Pages, errs map[string]string) (int, bool) {
	best, found := 0, false
	for id := range errs {
		p, ok := pages.PageForField(id)
		if !ok {
			continue
		}
		if !found || p < best {
			best, found = p, true
		}
	}
	return best, found
}

func indexOf(fields []model.FieldDefinition, id string) int {
	for i, f := range fields {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// validationError builds a VALIDATION_ERROR envelope with details in form
// field order.
func validationError(form model.FormDefinition, errs map[string]string) error {
	details := make([]model.FieldError, 0, len(errs))
	for id, msg := range errs {
		details = append(details, model.FieldError{Field: id, Code: "invalid", Message: msg})
	}
	sort.SliceStable(details, func(i, j int) bool {
		return indexOf(form.Fields, details[i].Field) < indexOf(form.Fields, details[j].Field)
	})
	return model.NewValidationError(details)
}

func asValidation(err error) (*model.ErrorEnvelope, bool) {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) && env.Code == model.ErrValidationError {
		return env, true
	}
	return nil, false
}
