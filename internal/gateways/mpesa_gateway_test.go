package gateway

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMpesaClient_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		client, err := NewMpesaClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("missing base url returns error", func(t *testing.T) {
		client, err := NewMpesaClient(&MpesaConfig{
			ShortCode: "174379",
			Passkey:   "passkey",
		})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("missing credentials returns error", func(t *testing.T) {
		client, err := NewMpesaClient(&MpesaConfig{
			BaseURL: "https://sandbox.safaricom.co.ke",
		})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("valid config creates client with defaults", func(t *testing.T) {
		client, err := NewMpesaClient(&MpesaConfig{
			BaseURL:   "https://sandbox.safaricom.co.ke",
			ShortCode: "174379",
			Passkey:   "passkey",
		})
		require.NoError(t, err)
		require.NotNil(t, client)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
	})
}

func TestStkPassword(t *testing.T) {
	password := stkPassword("174379", "secret", "20260828120000")

	decoded, err := base64.StdEncoding.DecodeString(password)
	require.NoError(t, err)
	assert.Equal(t, "174379secret20260828120000", string(decoded))
}

func TestStkPushPayload_AmountConversion(t *testing.T) {
	tests := []struct {
		name        string
		amountCents int64
		expected    int64
	}{
		{"whole shillings", 150000, 1500},
		{"minimum amount", 100, 1},
		{"fraction truncated", 150050, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.amountCents/100)
		})
	}
}
