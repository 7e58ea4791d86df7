package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// STKPushRequest mirrors the Daraja STK push payload.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode" binding:"required"`
	Password          string `json:"Password" binding:"required"`
	Timestamp         string `json:"Timestamp" binding:"required"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount" binding:"required"`
	PartyA            string `json:"PartyA" binding:"required"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber" binding:"required"`
	CallBackURL       string `json:"CallBackURL" binding:"required"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type callbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// Sandbox simulates the M-Pesa side of an STK push: it accepts the request,
// waits as if the customer were entering a PIN, and posts the result to the
// callback URL the request carried.
type Sandbox struct {
	successRate float64
	cancelRate  float64
	minDelay    time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
	mu          sync.Mutex
	client      *http.Client
}

func NewSandbox(successRate, cancelRate float64, minDelay, maxDelay time.Duration) *Sandbox {
	return &Sandbox{
		successRate: successRate,
		cancelRate:  cancelRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Sandbox) randomDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := s.maxDelay - s.minDelay
	if delta <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rng.Int63n(int64(delta)))
}

func (s *Sandbox) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// deliverCallback builds and posts the asynchronous STK result.
func (s *Sandbox) deliverCallback(req *STKPushRequest, merchantRequestID, checkoutRequestID string) {
	time.Sleep(s.randomDelay())

	var envelope callbackEnvelope
	cb := &envelope.Body.StkCallback
	cb.MerchantRequestID = merchantRequestID
	cb.CheckoutRequestID = checkoutRequestID

	roll := s.roll()
	switch {
	case roll < s.successRate:
		cb.ResultCode = 0
		cb.ResultDesc = "The service request is processed successfully."
		cb.CallbackMetadata = &struct {
			Item []callbackItem `json:"Item"`
		}{
			Item: []callbackItem{
				{Name: "Amount", Value: float64(req.Amount)},
				{Name: "MpesaReceiptNumber", Value: receiptNumber(s)},
				{Name: "TransactionDate", Value: transactionDateNumber()},
				{Name: "PhoneNumber", Value: req.PhoneNumber},
			},
		}
	case roll < s.successRate+s.cancelRate:
		cb.ResultCode = 1032
		cb.ResultDesc = "Request cancelled by user"
	default:
		cb.ResultCode = 1
		cb.ResultDesc = "The balance is insufficient for the transaction"
	}

	body, _ := json.Marshal(envelope)
	resp, err := s.client.Post(req.CallBackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Error().
			Str("checkout_request_id", checkoutRequestID).
			Str("callback_url", req.CallBackURL).
			Err(err).
			Msg("Failed to deliver callback")
		return
	}
	defer resp.Body.Close()

	log.Info().
		Str("checkout_request_id", checkoutRequestID).
		Int("result_code", cb.ResultCode).
		Int("callback_status", resp.StatusCode).
		Msg("Callback delivered")
}

func receiptNumber(s *Sandbox) string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789"
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, 10)
	for i := range b {
		b[i] = letters[s.rng.Intn(len(letters))]
	}
	return string(b)
}

// transactionDateNumber renders the date the way Daraja does, as a bare
// YYYYMMDDHHMMSS number in the JSON.
func transactionDateNumber() float64 {
	var n float64
	fmt.Sscanf(time.Now().UTC().Format("20060102150405"), "%f", &n)
	return n
}

type Handler struct {
	sandbox *Sandbox
}

func NewHandler(sandbox *Sandbox) *Handler {
	return &Handler{sandbox: sandbox}
}

// Token issues a fake OAuth token. Anything with a basic auth header passes.
func (h *Handler) Token(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"errorMessage": "Invalid Authentication passed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: uuid.New().String(),
		ExpiresIn:   "3599",
	})
}

// STKPush accepts the push and schedules the asynchronous result.
func (h *Handler) STKPush(c *gin.Context) {
	var req STKPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"requestId":    uuid.New().String(),
			"errorCode":    "400.002.02",
			"errorMessage": "Bad Request - " + err.Error(),
		})
		return
	}

	merchantRequestID := fmt.Sprintf("%d-%d-1", rand.Intn(99999), rand.Intn(99999999))
	checkoutRequestID := "ws_CO_" + time.Now().Format("02012006150405") + fmt.Sprintf("%04d", rand.Intn(10000))

	log.Info().
		Str("checkout_request_id", checkoutRequestID).
		Str("phone", req.PhoneNumber).
		Int64("amount", req.Amount).
		Str("account_reference", req.AccountReference).
		Msg("Received STK push request")

	go h.sandbox.deliverCallback(&req, merchantRequestID, checkoutRequestID)

	c.JSON(http.StatusOK, STKPushResponse{
		MerchantRequestID:   merchantRequestID,
		CheckoutRequestID:   checkoutRequestID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"success_rate": h.sandbox.successRate,
		"timestamp":    time.Now(),
	})
}

// UpdateConfig allows changing outcome rates at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SuccessRate *float64 `json:"success_rate"`
		CancelRate  *float64 `json:"cancel_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.sandbox.mu.Lock()
	if config.SuccessRate != nil && *config.SuccessRate >= 0 && *config.SuccessRate <= 1.0 {
		h.sandbox.successRate = *config.SuccessRate
	}
	if config.CancelRate != nil && *config.CancelRate >= 0 && *config.CancelRate <= 1.0 {
		h.sandbox.cancelRate = *config.CancelRate
	}
	h.sandbox.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":      "Configuration updated",
		"success_rate": h.sandbox.successRate,
		"cancel_rate":  h.sandbox.cancelRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.GET("/oauth/v1/generate", handler.Token)
	router.POST("/mpesa/stkpush/v1/processrequest", handler.STKPush)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8082")
	successRate := getEnvFloat("SUCCESS_RATE", 0.9)
	cancelRate := getEnvFloat("CANCEL_RATE", 0.05)
	minDelay := getEnvDuration("MIN_DELAY", 2*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 10*time.Second)

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Float64("cancel_rate", cancelRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting M-Pesa Sandbox")

	sandbox := NewSandbox(successRate, cancelRate, minDelay, maxDelay)
	handler := NewHandler(sandbox)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
