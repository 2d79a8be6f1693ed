package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/clevora/clevora-api/internal/config"
	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/signature"
	"github.com/clevora/clevora-api/pkg/circuitbreaker"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
	"github.com/clevora/clevora-api/pkg/logger"
	"github.com/clevora/clevora-api/pkg/retry"
)

// LinePay is the client for LINE Pay's v3 request/confirm API. Outbound
// calls carry an explicit timeout and run behind a retry policy and a
// circuit breaker; a network or provider failure surfaces as
// GatewayUnavailable and leaves the order pending.
type LinePay struct {
	baseURL     string
	domain      string
	signer      *signature.LinePaySigner
	httpClient  *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	retryConfig *retry.RetryConfig
	logger      logger.Logger
}

// PaymentRequestResult is the normalized outcome of a payment request
type PaymentRequestResult struct {
	PaymentURL    string `json:"payment_url"`
	TransactionID int64  `json:"transaction_id"`
}

// ConfirmResult is the normalized outcome of a payment confirmation
type ConfirmResult struct {
	ReturnCode    string
	ReturnMessage string
}

type linePayRequestBody struct {
	Amount       int64                `json:"amount"`
	Currency     string               `json:"currency"`
	OrderID      string               `json:"orderId"`
	Packages     []linePayPackage     `json:"packages"`
	RedirectURLs linePayRedirectURLs  `json:"redirectUrls"`
}

type linePayPackage struct {
	ID       string           `json:"id"`
	Amount   int64            `json:"amount"`
	Name     string           `json:"name"`
	Products []linePayProduct `json:"products"`
}

type linePayProduct struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type linePayRedirectURLs struct {
	ConfirmURL string `json:"confirmUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type linePayConfirmBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type linePayResponse struct {
	ReturnCode    string `json:"returnCode"`
	ReturnMessage string `json:"returnMessage"`
	Info          struct {
		TransactionID int64 `json:"transactionId"`
		PaymentURL    struct {
			Web string `json:"web"`
			App string `json:"app"`
		} `json:"paymentUrl"`
	} `json:"info"`
}

// NewLinePay creates the LINE Pay adapter
func NewLinePay(cfg config.LinePayConfig, domain string, signer *signature.LinePaySigner, logger logger.Logger) *LinePay {
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	retryConfig := &retry.RetryConfig{
		MaxAttempts: 3,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      1.5,
			JitterFactor:    0.2,
		},
		Logger: logger,
		RetryableErrors: []error{
			apperrors.ErrTimeout,
			apperrors.ErrTemporaryFailure,
			apperrors.ErrServiceUnavailable,
		},
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 2,
	})

	return &LinePay{
		baseURL:     cfg.BaseURL,
		domain:      domain,
		signer:      signer,
		httpClient:  httpClient,
		breaker:     breaker,
		retryConfig: retryConfig,
		logger:      logger,
	}
}

// BreakerState reports the circuit breaker state for operator introspection
func (g *LinePay) BreakerState() circuitbreaker.State {
	return g.breaker.GetState()
}

// RequestPayment initiates a LINE Pay checkout for the order and returns the
// web payment URL the customer is redirected to.
func (g *LinePay) RequestPayment(ctx context.Context, order *models.Order, items []models.LineItem) (*PaymentRequestResult, error) {
	products := make([]linePayProduct, 0, len(items))

	for _, item := range items {
		products = append(products, linePayProduct{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		})
	}

	body := linePayRequestBody{
		Amount:   order.Amount,
		Currency: "TWD",
		OrderID:  order.OrderID,
		Packages: []linePayPackage{{
			ID:       "package-1",
			Amount:   order.Amount,
			Name:     "Clevora order",
			Products: products,
		}},
		RedirectURLs: linePayRedirectURLs{
			ConfirmURL: g.domain + "/pay/confirm",
			CancelURL:  g.domain + "/pay/cancel",
		},
	}

	resp, err := g.dispatch(ctx, "/v3/payments/request", body)

	if err != nil {
		return nil, err
	}

	if resp.ReturnCode != "0000" {
		g.logger.Warn("LINE Pay payment request rejected",
			"orderID", order.OrderID,
			"returnCode", resp.ReturnCode,
			"returnMessage", resp.ReturnMessage)
		return nil, apperrors.NewGatewayUnavailableError(
			fmt.Sprintf("payment could not be initiated: %s", resp.ReturnMessage))
	}

	return &PaymentRequestResult{
		PaymentURL:    resp.Info.PaymentURL.Web,
		TransactionID: resp.Info.TransactionID,
	}, nil
}

// Confirm finalizes a transaction after the customer approves it. The
// returnCode is settled through Normalize by the callback reconciler.
func (g *LinePay) Confirm(ctx context.Context, transactionID string, amount int64) (*ConfirmResult, error) {
	body := linePayConfirmBody{
		Amount:   amount,
		Currency: "TWD",
	}

	resp, err := g.dispatch(ctx, fmt.Sprintf("/v3/payments/%s/confirm", transactionID), body)

	if err != nil {
		return nil, err
	}

	return &ConfirmResult{
		ReturnCode:    resp.ReturnCode,
		ReturnMessage: resp.ReturnMessage,
	}, nil
}

// dispatch performs a signed POST to the given API path. The request body is
// serialized exactly once; the same bytes are signed and sent, since any
// re-serialization would invalidate the signature.
func (g *LinePay) dispatch(ctx context.Context, uri string, payload interface{}) (*linePayResponse, error) {
	if !g.breaker.Allow() {
		g.logger.Warn("LINE Pay circuit breaker open, rejecting dispatch", "uri", uri)
		return nil, apperrors.NewGatewayUnavailableError("payment gateway temporarily unavailable")
	}

	bodyBytes, err := json.Marshal(payload)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to marshal request: %v", err))
	}

	nonce := g.signer.Nonce()
	auth := g.signer.Sign(uri, string(bodyBytes), nonce)

	var response *linePayResponse

	retryFunc := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+uri, bytes.NewReader(bodyBytes))

		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-LINE-ChannelId", g.signer.ChannelID())
		req.Header.Set("X-LINE-Authorization-Nonce", nonce)
		req.Header.Set("X-LINE-Authorization", auth)

		resp, err := g.httpClient.Do(req)

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return apperrors.NewTimeoutError("gateway request timed out")
			}
			return apperrors.NewTemporaryError(fmt.Sprintf("failed to send request: %v", err))
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)

		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to read response body: %v", err))
		}

		if resp.StatusCode >= 400 {
			if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode >= http.StatusInternalServerError {
				return apperrors.NewTemporaryError(fmt.Sprintf("gateway error: %d", resp.StatusCode))
			}

			return apperrors.NewAppError(
				apperrors.ErrGatewayUnavailable,
				fmt.Sprintf("gateway returned error: %d", resp.StatusCode),
				resp.StatusCode,
				false,
			)
		}

		response = &linePayResponse{}

		if err := json.Unmarshal(respBody, response); err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to parse response: %v", err))
		}

		return nil
	}

	err = retry.Retry(ctx, retryFunc, g.retryConfig)

	if err != nil {
		g.breaker.Failure()
		g.logger.Error("LINE Pay dispatch failed after retries", "error", err, "uri", uri)
		return nil, apperrors.NewGatewayUnavailableError("payment gateway unavailable")
	}

	g.breaker.Success()
	return response, nil
}
