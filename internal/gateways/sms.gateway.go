package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zawadi/giving-gateway/pkg/logger"
)

var (
	ErrSMSRejected = errors.New("sms rejected by provider")
)

type SMSConfig struct {
	EndpointURL     string
	APIKey          string
	Username        string
	SenderID        string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

type SMSResult struct {
	MessageID string
	Status    string
	Cost      string
}

type smsProviderResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
			MessageID  string `json:"messageId"`
			Cost       string `json:"cost"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// SMSClient delivers receipt texts through an Africa's Talking compatible
// endpoint. Without an API key it runs in dev mode: messages are logged
// instead of sent and every send succeeds, which mirrors how the sandbox
// environment is used locally.
type SMSClient struct {
	config *SMSConfig
	client *fasthttp.Client
}

func NewSMSClient(config *SMSConfig) (*SMSClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.EndpointURL == "" {
		return nil, errors.New("endpoint url is required")
	}

	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
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

	if config.APIKey == "" {
		logger.Warn("SMS client running in dev mode, messages will be logged instead of sent")
	} else {
		logger.Info("SMS client initialized", "endpoint", config.EndpointURL, "sender_id", config.SenderID)
	}

	return &SMSClient{
		config: config,
		client: client,
	}, nil
}

func (c *SMSClient) DevMode() bool {
	return c.config.APIKey == ""
}

func (c *SMSClient) Send(ctx context.Context, phoneNumber, message string) (*SMSResult, error) {
	if c.DevMode() {
		logger.Info("SMS (dev mode)", "to", phoneNumber, "message", message)
		return &SMSResult{
			MessageID: "dev-" + uuid.NewString(),
			Status:    "Success",
		}, nil
	}

	form := url.Values{}
	form.Set("username", c.config.Username)
	form.Set("to", "+"+phoneNumber)
	form.Set("message", message)
	if c.config.SenderID != "" {
		form.Set("from", c.config.SenderID)
	}
	body := []byte(form.Encode())

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
		response, err := c.doRequest(ctx, body)
		latency := time.Since(startTime).Milliseconds()

		if err != nil {
			logger.Warn("SMS request failed, retrying", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}

		var resp smsProviderResponse
		if err := json.Unmarshal(response, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		if len(resp.SMSMessageData.Recipients) == 0 {
			logger.Warn("SMS rejected", "to", phoneNumber, "provider_message", resp.SMSMessageData.Message)
			return nil, fmt.Errorf("%w: %s", ErrSMSRejected, resp.SMSMessageData.Message)
		}

		recipient := resp.SMSMessageData.Recipients[0]
		if recipient.StatusCode >= 400 {
			logger.Warn("SMS rejected for recipient", "to", phoneNumber, "status", recipient.Status, "status_code", recipient.StatusCode)
			return nil, fmt.Errorf("%w: %s", ErrSMSRejected, recipient.Status)
		}

		logger.Info("SMS sent", "to", phoneNumber, "message_id", recipient.MessageID, "latency_ms", latency)

		return &SMSResult{
			MessageID: recipient.MessageID,
			Status:    recipient.Status,
			Cost:      recipient.Cost,
		}, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *SMSClient) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.EndpointURL)
	req.Header.SetMethod("POST")
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set("apiKey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
