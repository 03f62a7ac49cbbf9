package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrMissingSignature = errors.New("missing callback signature")
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrMalformed        = errors.New("malformed callback payload")
)

// Sign returns the hex HMAC-SHA512 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the exact raw body bytes
func (c *Client) VerifySignature(body []byte, signature string) error {
	return VerifySignature(c.IPNSecret, body, signature)
}

func VerifySignature(secret string, body []byte, signature string) error {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return ErrMissingSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseCallback decodes a callback body. payment_id and payment_status are required.
func ParseCallback(body []byte) (*Payment, error) {
	var p Payment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformed
	}
	if p.PaymentID == "" || p.PaymentStatus == "" {
		return nil, ErrMalformed
	}
	return &p, nil
}
