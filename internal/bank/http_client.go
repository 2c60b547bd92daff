package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	authPath         = "/auth"
	connectTokenPath = "/connect_token"
	accountsPath     = "/accounts"
	transactionsPath = "/transactions"
	paymentsPath     = "/payments"
)

// HTTPClient talks to the aggregator REST API. Credentials are exchanged for
// a short-lived API key which is cached and refreshed on expiry.
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string

	mu           sync.Mutex
	apiKey       string
	apiKeyExpiry time.Time
}

var _ Client = (*HTTPClient)(nil)

type HTTPClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("aggregator base url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("aggregator credentials are required")
	}
	return &HTTPClient{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}, nil
}

type authResponse struct {
	APIKey string `json:"apiKey"`
}

func (c *HTTPClient) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.apiKey != "" && time.Now().Before(c.apiKeyExpiry) {
		return c.apiKey, nil
	}

	body, _ := json.Marshal(map[string]string{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var auth authResponse
	if err := c.do(req, &auth); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if auth.APIKey == "" {
		return "", fmt.Errorf("authenticate: empty api key in response")
	}

	c.apiKey = auth.APIKey
	c.apiKeyExpiry = time.Now().Add(25 * time.Minute)
	return c.apiKey, nil
}

type connectTokenResponse struct {
	ConnectToken string    `json:"connectToken"`
	ConnectURL   string    `json:"connectUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (c *HTTPClient) CreateConnection(ctx context.Context, redirectTarget string) (ConnectSession, error) {
	body, _ := json.Marshal(map[string]string{"redirectUri": redirectTarget})
	req, err := c.newAuthedRequest(ctx, http.MethodPost, c.baseURL+connectTokenPath, bytes.NewReader(body))
	if err != nil {
		return ConnectSession{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp connectTokenResponse
	if err := c.do(req, &resp); err != nil {
		return ConnectSession{}, fmt.Errorf("create connection: %w", err)
	}
	return ConnectSession{
		ConnectToken: resp.ConnectToken,
		ConnectURL:   resp.ConnectURL,
		ExpiresAt:    resp.ExpiresAt,
	}, nil
}

type accountPayload struct {
	ID           string  `json:"id"`
	Balance      float64 `json:"balance"`
	CurrencyCode string  `json:"currencyCode"`
}

type accountsResponse struct {
	Results []accountPayload `json:"results"`
}

func (c *HTTPClient) FetchAccountSnapshot(ctx context.Context, itemID string) ([]Account, error) {
	endpoint := c.baseURL + accountsPath + "?itemId=" + url.QueryEscape(itemID)
	req, err := c.newAuthedRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp accountsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, ErrNoAccounts
	}

	accounts := make([]Account, 0, len(resp.Results))
	for _, a := range resp.Results {
		accounts = append(accounts, Account{
			ID:           a.ID,
			BalanceMajor: a.Balance,
			CurrencyCode: a.CurrencyCode,
		})
	}
	return accounts, nil
}

type transactionPayload struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
}

type transactionsResponse struct {
	Results    []transactionPayload `json:"results"`
	Page       int                  `json:"page"`
	TotalPages int                  `json:"totalPages"`
}

func (c *HTTPClient) ListTransactions(ctx context.Context, itemID, accountID string, since time.Time) ([]Transaction, error) {
	var all []Transaction

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("itemId", itemID)
		q.Set("accountId", accountID)
		q.Set("from", since.UTC().Format(time.RFC3339))
		q.Set("page", strconv.Itoa(page))

		req, err := c.newAuthedRequest(ctx, http.MethodGet, c.baseURL+transactionsPath+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var resp transactionsResponse
		if err := c.do(req, &resp); err != nil {
			return nil, fmt.Errorf("list transactions page %d: %w", page, err)
		}

		for _, t := range resp.Results {
			all = append(all, Transaction{
				ID:          t.ID,
				Description: t.Description,
				AmountMajor: t.Amount,
				Timestamp:   t.Date,
			})
		}

		if resp.TotalPages == 0 || page >= resp.TotalPages {
			return all, nil
		}
	}
}

func (c *HTTPClient) InitiatePayment(ctx context.Context, payment PaymentRequest) error {
	body, _ := json.Marshal(map[string]interface{}{
		"accountId": payment.AccountID,
		"recipient": payment.RecipientKey,
		"amount":    payment.AmountMajor,
	})
	req, err := c.newAuthedRequest(ctx, http.MethodPost, c.baseURL+paymentsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("initiate payment: %w", err)
	}
	return nil
}

func (c *HTTPClient) newAuthedRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	key, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", key)
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("aggregator returned %d: %s", resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
