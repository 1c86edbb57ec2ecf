// Package broker calls the partner broker API to verify signups and check
// deposits for extracted lead identities.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/engine/intake"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

// NewClient returns nil when no broker API is configured; the intake agent
// then runs in passthrough mode.
func NewClient(cfg config.BrokerConfig, log *logger.Logger) *Client {
	if !cfg.IsBrokerEnabled() {
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetBrokerAPIURL(), "/"),
		apiKey:  cfg.GetBrokerAPIKey(),
		http:    &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

type verifyRequest struct {
	Email     string `json:"email,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	Broker    string `json:"broker,omitempty"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
	Accounts []struct {
		Broker    string `json:"broker"`
		AccountID string `json:"accountId"`
	} `json:"accounts"`
	Confidence float64 `json:"confidence"`
}

func (c *Client) VerifySignup(ctx context.Context, req intake.VerifyRequest) (*intake.VerifyResult, error) {
	var resp verifyResponse
	err := c.post(ctx, "/v1/signup/verify", verifyRequest{
		Email:     req.Email,
		AccountID: req.AccountID,
		Broker:    req.Broker,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &intake.VerifyResult{Verified: resp.Verified, Confidence: resp.Confidence}
	for _, acc := range resp.Accounts {
		result.Accounts = append(result.Accounts, intake.VerifiedAccount{
			Broker:    acc.Broker,
			AccountID: acc.AccountID,
		})
	}
	return result, nil
}

type depositRequest struct {
	Broker    string `json:"broker,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	Email     string `json:"email,omitempty"`
}

type depositResponse struct {
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

func (c *Client) CheckDeposit(ctx context.Context, req intake.DepositRequest) (*intake.DepositResult, error) {
	var resp depositResponse
	err := c.post(ctx, "/v1/deposit/check", depositRequest{
		Broker:    req.Broker,
		AccountID: req.AccountID,
		Email:     req.Email,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &intake.DepositResult{
		Status: domain.DepositStatus(resp.Status),
		Amount: resp.Amount,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal broker payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("broker request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broker api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
