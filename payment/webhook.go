package payment

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/miragespace/vpsdash/apperror"
	"github.com/miragespace/vpsdash/gateway"
	"github.com/miragespace/vpsdash/notify"
	resp "github.com/miragespace/vpsdash/response"

	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

// Verifier checks a callback signature against the raw body
type Verifier interface {
	VerifySignature(body []byte, signature string) error
}

// SecretVerifier verifies with a shared secret directly
type SecretVerifier string

func (s SecretVerifier) VerifySignature(body []byte, signature string) error {
	return gateway.VerifySignature(string(s), body, signature)
}

// Processed is the acknowledgement body of an accepted callback
type Processed struct {
	*Outcome
	Error string `json:"error,omitempty"`
}

// HandleWebhook verifies and applies one callback. Only signature and payload
// failures are returned as errors; processing failures are logged, alerted and
// reported inside Processed so the gateway still receives an acknowledgement.
func (m *Manager) HandleWebhook(ctx context.Context, verifier Verifier, body []byte, signature string) (*Processed, error) {
	if err := verifier.VerifySignature(body, signature); err != nil {
		m.Metrics.IncWebhook("rejected")
		return nil, apperror.Wrap(apperror.KindSignature, err, "Invalid callback signature")
	}
	update, err := gateway.ParseCallback(body)
	if err != nil {
		m.Metrics.IncWebhook("malformed")
		return nil, apperror.Wrap(apperror.KindValidation, err, "Malformed callback payload")
	}

	logger := m.Logger.With(
		zap.String("OrderID", update.OrderID),
		zap.String("PaymentID", string(update.PaymentID)),
		zap.String("PaymentStatus", string(update.PaymentStatus)),
	)

	outcome, err := m.ApplyUpdate(ctx, update)
	if err != nil {
		logger.Error("Unable to apply payment callback",
			zap.Error(err),
		)
		m.Metrics.IncWebhook("error")
		m.alert(ctx, notify.EventDepositError, map[string]string{
			"orderId":   update.OrderID,
			"paymentId": string(update.PaymentID),
			"status":    string(update.PaymentStatus),
			"error":     err.Error(),
		})
		return &Processed{
			Outcome: &Outcome{
				OrderID:   update.OrderID,
				PaymentID: string(update.PaymentID),
				Status:    update.PaymentStatus,
			},
			Error: "processing failed",
		}, nil
	}

	switch {
	case outcome.Credited:
		m.Metrics.IncWebhook("credited")
	case outcome.Advanced:
		m.Metrics.IncWebhook("advanced")
	default:
		m.Metrics.IncWebhook("ignored")
	}
	logger.Info("Payment callback applied",
		zap.Bool("Advanced", outcome.Advanced),
		zap.Bool("Credited", outcome.Credited),
		zap.String("PreviousStatus", string(outcome.PreviousStatus)),
	)
	return &Processed{Outcome: outcome}, nil
}

// WebhookHandler is the unauthenticated callback route
func (m *Manager) WebhookHandler(verifier Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read callback body"))
			return
		}

		processed, err := m.HandleWebhook(r.Context(), verifier, body, r.Header.Get(gateway.SignatureHeader))
		if err != nil {
			if errors.Is(err, gateway.ErrMissingSignature) || errors.Is(err, gateway.ErrInvalidSignature) {
				m.Logger.Warn("Rejected payment callback",
					zap.String("RemoteAddr", r.RemoteAddr),
					zap.Error(err),
				)
			}
			resp.WriteError(w, r, resp.FromError(err))
			return
		}

		resp.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"processed": processed,
		})
	}
}
