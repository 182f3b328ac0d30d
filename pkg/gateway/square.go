package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/medimarthq/settlement-backend/pkg/config"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// SquareGateway backs the Gateway interface with Square, with centralized
// auth, logging, idempotency, and error mapping.
type SquareGateway struct {
	sdk         *sqclient.Client
	accessToken string
	environment string
	baseURL     string
	logger      *logger.Logger
}

var _ Gateway = (*SquareGateway)(nil)

// NewSquareGateway initializes the Square wrapper and validates the credentials.
func NewSquareGateway(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*SquareGateway, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	baseURL := baseURLs[env]
	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	)

	g := &SquareGateway{
		sdk:         sdk,
		accessToken: accessToken,
		environment: env,
		baseURL:     baseURL,
		logger:      logg,
	}

	logg.Info(ctx, "square gateway initialized")
	return g, nil
}

// Environment reports the normalized Square environment.
func (g *SquareGateway) Environment() string {
	if g == nil {
		return ""
	}
	return g.environment
}

// NewIdempotencyKey returns a unique key for processor operations.
func (g *SquareGateway) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "mm"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// Charge captures a payment with Square.
func (g *SquareGateway) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: g.ensureIdempotencyKey("payment.create", params.IdempotencyKey),
		LocationID:     ptrString(params.LocationID),
		CustomerID:     ptrString(params.CustomerID),
		SourceID:       params.SourceID,
	}
	if params.AmountCents > 0 {
		req.AmountMoney = moneyPtr(params.AmountCents, params.Currency)
	}
	if trimmed := strings.TrimSpace(params.Note); trimmed != "" {
		req.Note = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(params.ReferenceID); trimmed != "" {
		req.ReferenceID = ptrString(trimmed)
	}

	g.log(ctx, "request", "create_payment", map[string]any{
		"location_id": params.LocationID,
		"customer_id": params.CustomerID,
		"amount":      params.AmountCents,
	})

	resp, err := g.sdk.Payments.Create(ctx, req)
	if err != nil {
		g.log(ctx, "error", "create_payment", map[string]any{"error": err.Error()})
		return nil, g.mapSquareError(err, "create payment")
	}

	payment := resp.GetPayment()
	result := &ChargeResult{
		TransactionID: stringValue(payment.GetID()),
		Status:        stringValue(payment.GetStatus()),
	}
	g.log(ctx, "response", "create_payment", map[string]any{
		"payment_id": result.TransactionID,
		"status":     result.Status,
	})
	return result, nil
}

// Refund issues a full or partial refund against a captured payment.
func (g *SquareGateway) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	req := &sq.RefundPaymentRequest{
		IdempotencyKey: g.ensureIdempotencyKey("payment.refund", params.IdempotencyKey),
		AmountMoney:    moneyPtr(params.AmountCents, params.Currency),
		PaymentID:      ptrString(params.TransactionID),
	}
	if trimmed := strings.TrimSpace(params.Reason); trimmed != "" {
		req.Reason = ptrString(trimmed)
	}

	g.log(ctx, "request", "refund_payment", map[string]any{
		"payment_id": params.TransactionID,
		"amount":     params.AmountCents,
	})

	resp, err := g.sdk.Refunds.RefundPayment(ctx, req)
	if err != nil {
		g.log(ctx, "error", "refund_payment", map[string]any{"error": err.Error()})
		return nil, g.mapSquareError(err, "refund payment")
	}

	result := refundResultFrom(resp.GetRefund())
	g.log(ctx, "response", "refund_payment", map[string]any{
		"refund_id": result.RefundID,
		"status":    result.Status,
	})
	return result, nil
}

func (g *SquareGateway) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return g.NewIdempotencyKey(prefix)
}

func (g *SquareGateway) log(ctx context.Context, phase, op string, fields map[string]any) {
	if g == nil || g.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = g.redact(k, v)
	}
	ctx = g.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		g.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		g.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func (g *SquareGateway) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (g *SquareGateway) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range g.extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeIdempotency
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeUnauthorized
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func (g *SquareGateway) extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

// refundResultFrom maps Square's refund payload onto the gateway result.
// PaymentRefund carries the id as a plain string while status stays optional.
func refundResultFrom(refund *sq.PaymentRefund) *RefundResult {
	return &RefundResult{
		RefundID: refund.GetID(),
		Status:   stringValue(refund.GetStatus()),
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	}
	return "", errInvalidSquareEnv
}
