package payment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/miragespace/vpsdash/auth"
	resp "github.com/miragespace/vpsdash/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	PaymentManager *Manager
	Logger         *zap.Logger
	// RateLimit, when set, wraps the mutating routes
	RateLimit func(http.Handler) http.Handler
}

// Service is the payment API router
type Service struct {
	ServiceOptions
	validate *validator.Validate
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.PaymentManager == nil {
		return nil, fmt.Errorf("nil PaymentManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

// NewDepositRequest contains the request from client to start a deposit
type NewDepositRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,alphanum,max=20"`
}

func (s *Service) newDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req NewDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid currency"))
		return
	}

	txn, err := s.PaymentManager.Create(ctx, CreateRequest{
		UserID:   claims.UserID(),
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, txn)
}

func (s *Service) getDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	txn, err := s.PaymentManager.Get(ctx, claims.UserID(), chi.URLParam(r, "orderId"))
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, txn)
}

func (s *Service) listDeposits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	results, err := s.PaymentManager.ListByUser(ctx, claims.UserID())
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, results)
}

func (s *Service) refreshDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	outcome, err := s.PaymentManager.Refresh(ctx, claims.UserID(), chi.URLParam(r, "orderId"))
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, outcome)
}

func (s *Service) listCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := s.PaymentManager.Currencies(r.Context())
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, currencies)
}

func (s *Service) adminList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid limit param"))
			return
		}
		limit = n
	}
	results, err := s.PaymentManager.ListRecent(r.Context(), limit)
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, results)
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// Router will return the authenticated routes under payment API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	limit := passthrough
	if s.RateLimit != nil {
		limit = s.RateLimit
	}
	mutating := r.With(limit)

	r.Get("/", s.listDeposits)
	r.Get("/currencies", s.listCurrencies)
	mutating.Post("/", s.newDeposit)
	r.Get("/{orderId}", s.getDeposit)
	mutating.Post("/{orderId}/refresh", s.refreshDeposit)

	return r
}

// AdminRouter returns the routes for admin callers. Role checks happen in the caller's middleware.
func (s *Service) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.adminList)
	return r
}
