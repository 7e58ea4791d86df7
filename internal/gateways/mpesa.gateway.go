package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/zawadi/giving-gateway/pkg/logger"
)

var (
	// ErrSTKRejected is returned when the provider refuses to start a
	// collection request (bad shortcode, throttling, invalid phone).
	ErrSTKRejected = errors.New("stk push rejected by provider")
)

const (
	oauthPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"
)

type MpesaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	CallbackURL     string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

// STKPushRequest describes one collection prompt pushed to a phone.
// AmountCents is converted to whole shillings on the wire because the
// provider does not accept fractional amounts.
type STKPushRequest struct {
	PhoneNumber      string
	AmountCents      int64
	AccountReference string
	Description      string
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// MpesaClient talks to the Daraja STK push API. The OAuth token is cached
// and refreshed a minute before it expires.
type MpesaClient struct {
	config *MpesaConfig
	client *fasthttp.Client
	now    func() time.Time

	mu             sync.Mutex
	token          string
	tokenExpiresAt time.Time
}

func NewMpesaClient(config *MpesaConfig) (*MpesaClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if config.ShortCode == "" || config.Passkey == "" {
		return nil, errors.New("shortcode and passkey are required")
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxConns == 0 {
		config.MaxConns = 100
	}

	client := &fasthttp.Client{
		MaxConnsPerHost:     config.MaxConns,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
		MaxIdleConnDuration: 60 * time.Second,
		ReadBufferSize:      config.ReadBufferSize,
		WriteBufferSize:     config.WriteBufferSize,
	}

	logger.Info("M-Pesa client initialized", "base_url", config.BaseURL, "shortcode", config.ShortCode)

	return &MpesaClient{
		config: config,
		client: client,
		now:    time.Now,
	}, nil
}

// STKPush asks the provider to prompt the phone for payment. A non-zero
// ResponseCode means the request never reached the handset, so the caller
// should fail its pending records immediately rather than wait for a
// callback that will not come.
func (c *MpesaClient) STKPush(ctx context.Context, req *STKPushRequest) (*STKPushResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	timestamp := c.now().Format(timestampLayout)
	payload := stkPushPayload{
		BusinessShortCode: c.config.ShortCode,
		Password:          stkPassword(c.config.ShortCode, c.config.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.AmountCents / 100,
		PartyA:            req.PhoneNumber,
		PartyB:            c.config.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.config.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		startTime := time.Now()
		response, err := c.doRequest(ctx, "POST", stkPushPath, body, "Bearer "+token)
		latency := time.Since(startTime).Milliseconds()

		if err != nil {
			logger.Warn("STK push request failed, retrying", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}

		var resp STKPushResponse
		if err := json.Unmarshal(response, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		if resp.ResponseCode != "0" {
			logger.Warn("STK push rejected",
				"response_code", resp.ResponseCode,
				"description", resp.ResponseDescription,
				"account_reference", req.AccountReference)
			return &resp, ErrSTKRejected
		}

		logger.Info("STK push accepted",
			"checkout_request_id", resp.CheckoutRequestID,
			"account_reference", req.AccountReference,
			"latency_ms", latency)

		return &resp, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiresAt) {
		return c.token, nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))

	response, err := c.doRequest(ctx, "GET", oauthPath, nil, "Basic "+basic)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("empty access token in response")
	}

	ttl := 3599 * time.Second
	if d, err := time.ParseDuration(resp.ExpiresIn + "s"); err == nil && d > 0 {
		ttl = d
	}

	c.token = resp.AccessToken
	c.tokenExpiresAt = c.now().Add(ttl - time.Minute)

	return c.token, nil
}

func (c *MpesaClient) doRequest(ctx context.Context, method, path string, body []byte, authorization string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", authorization)

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}

func stkPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
