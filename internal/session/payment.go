package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/structure"
	"github.com/pitabwire/formengine/model"
)

// paymentOutcome is the reference to write into the payment field.
type paymentOutcome struct {
	fieldID   string
	reference string
}

// settlePayment runs the payment block of a page. It returns nil when there
// is nothing to charge: no block, a hidden block, an already paid block, or
// an untouched block that is not required.
func (s *Session) settlePayment(ctx context.Context, pages *structure.Pages, page int, answers model.Answers) (*paymentOutcome, error) {
	block, ok := pages.PaymentBlockOf(page)
	if !ok {
		return nil, nil
	}
	if s.resolver.IsHidden(ctx, block, answers) {
		return nil, nil
	}

	answer := answers[block.ID]
	if ref, ok := answer.(string); ok && strings.HasPrefix(ref, model.PaymentIntentPrefix) {
		return nil, nil
	}
	if model.IsEmptyValue(answer) && !s.resolver.IsRequired(ctx, block, answers) {
		s.logger.Debug("session: optional payment skipped", zap.String("field_id", block.ID))
		return nil, nil
	}

	if s.collab.Payments == nil {
		return nil, model.NewTransitionError(model.ErrPaymentFailed, "payment is required but no provider is configured")
	}

	intent, err := s.collab.Payments.CreateIntent(ctx, block.Amount, block.Currency, block.Description)
	if err != nil {
		return nil, model.NewTransitionError(model.ErrPaymentFailed, fmt.Sprintf("create payment intent: %v", err))
	}

	conf, err := s.collab.Payments.Confirm(ctx, intent.ClientSecret, billingFrom(answer))
	if err != nil {
		return nil, model.NewTransitionError(model.ErrPaymentFailed, fmt.Sprintf("confirm payment: %v", err))
	}
	if !conf.Success {
		msg := conf.Message
		if msg == "" {
			msg = "The payment was declined"
		}
		return nil, model.NewTransitionError(model.ErrPaymentFailed, msg)
	}

	s.logger.Info("session: payment confirmed", zap.String("field_id", block.ID), zap.String("reference", conf.ReferenceID))
	return &paymentOutcome{fieldID: block.ID, reference: conf.ReferenceID}, nil
}

// billingFrom reads billing details from a touched payment answer.
func billingFrom(answer any) model.BillingDetails {
	m, ok := answer.(map[string]any)
	if !ok {
		return model.BillingDetails{}
	}
	name, _ := m["name"].(string)
	email, _ := m["email"].(string)
	return model.BillingDetails{Name: name, Email: email}
}
