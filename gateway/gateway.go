// Package gateway is a client for a NOWPayments-style crypto payment API.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw callback body
const SignatureHeader = "x-nowpayments-sig"

// Status is the gateway's payment status
type Status string

const (
	StatusWaiting       Status = "waiting"
	StatusConfirming    Status = "confirming"
	StatusConfirmed     Status = "confirmed"
	StatusSending       Status = "sending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusFinished      Status = "finished"
	StatusFailed        Status = "failed"
	StatusExpired       Status = "expired"
	StatusRefunded      Status = "refunded"
)

// ID accepts both JSON strings and numbers
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*id = ID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

type Options struct {
	BaseURL   string
	APIKey    string
	IPNSecret string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Client talks to the payment gateway
type Client struct {
	Options
	http *resty.Client
}

func New(option Options) (*Client, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.BaseURL == "" {
		return nil, fmt.Errorf("empty BaseURL is invalid")
	}
	if option.APIKey == "" {
		return nil, fmt.Errorf("empty APIKey is invalid")
	}
	if option.IPNSecret == "" {
		return nil, fmt.Errorf("empty IPNSecret is invalid")
	}
	if option.Timeout <= 0 {
		option.Timeout = 15 * time.Second
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(option.BaseURL, "/")).
		SetHeader("x-api-key", option.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(option.Timeout)
	return &Client{
		Options: option,
		http:    h,
	}, nil
}

type apiError struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error is a non-2xx answer from the gateway
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

func checkResponse(resp *resty.Response, apiErr *apiError) error {
	if !resp.IsError() {
		return nil
	}
	e := &Error{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: apiErr.Message}
	if e.Message == "" && resp.StatusCode() != http.StatusNotFound {
		e.Message = strings.TrimSpace(string(resp.Body()))
	}
	return e
}

// CreatePaymentRequest prices a deposit in PriceCurrency and asks the payer for PayCurrency
type CreatePaymentRequest struct {
	PriceAmount      decimal.Decimal
	PriceCurrency    string
	PayCurrency      string
	OrderID          string
	OrderDescription string
	CallbackURL      string
}

type createPaymentBody struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	PayCurrency      string      `json:"pay_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description,omitempty"`
	IPNCallbackURL   string      `json:"ipn_callback_url"`
}

// Payment is the gateway's view of a payment
type Payment struct {
	PaymentID             ID                  `json:"payment_id"`
	PaymentStatus         Status              `json:"payment_status"`
	PayAddress            string              `json:"pay_address"`
	PriceAmount           decimal.NullDecimal `json:"price_amount"`
	PriceCurrency         string              `json:"price_currency"`
	PayAmount             decimal.NullDecimal `json:"pay_amount"`
	PayCurrency           string              `json:"pay_currency"`
	ActuallyPaid          decimal.NullDecimal `json:"actually_paid"`
	OutcomeAmount         decimal.NullDecimal `json:"outcome_amount"`
	OutcomeCurrency       string              `json:"outcome_currency"`
	OrderID               string              `json:"order_id"`
	PayinHash             string              `json:"payin_hash"`
	PayoutHash            string              `json:"payout_hash"`
	ConfirmationsRequired int                 `json:"confirmations_required"`
	ExpiresAt             string              `json:"expiration_estimate_date"`
}

func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	var out Payment
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createPaymentBody{
			PriceAmount:      json.Number(req.PriceAmount.StringFixed(2)),
			PriceCurrency:    req.PriceCurrency,
			PayCurrency:      req.PayCurrency,
			OrderID:          req.OrderID,
			OrderDescription: req.OrderDescription,
			IPNCallbackURL:   req.CallbackURL,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/payment")
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create payment on gateway")
	}
	if err := checkResponse(resp, &apiErr); err != nil {
		return nil, err
	}
	if out.PaymentID == "" {
		return nil, extErrors.New("Gateway response is missing payment_id")
	}
	return &out, nil
}

// GetPaymentStatus fetches the current state of a payment by the gateway's payment id
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*Payment, error) {
	var out Payment
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("paymentID", paymentID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/payment/{paymentID}")
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot get payment status from gateway")
	}
	if err := checkResponse(resp, &apiErr); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCurrencies(ctx context.Context) ([]string, error) {
	var out struct {
		Currencies []string `json:"currencies"`
	}
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/currencies")
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot list gateway currencies")
	}
	if err := checkResponse(resp, &apiErr); err != nil {
		return nil, err
	}
	return out.Currencies, nil
}
