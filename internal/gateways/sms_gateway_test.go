package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMSClient_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		client, err := NewSMSClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("missing endpoint returns error", func(t *testing.T) {
		client, err := NewSMSClient(&SMSConfig{})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("no api key enables dev mode", func(t *testing.T) {
		client, err := NewSMSClient(&SMSConfig{
			EndpointURL: "https://api.africastalking.com/version1/messaging",
		})
		require.NoError(t, err)
		assert.True(t, client.DevMode())
	})

	t.Run("api key disables dev mode", func(t *testing.T) {
		client, err := NewSMSClient(&SMSConfig{
			EndpointURL: "https://api.africastalking.com/version1/messaging",
			APIKey:      "atsk_test",
			Username:    "sandbox",
		})
		require.NoError(t, err)
		assert.False(t, client.DevMode())
	})
}

func TestSMSClient_SendDevMode(t *testing.T) {
	client, err := NewSMSClient(&SMSConfig{
		EndpointURL: "https://api.africastalking.com/version1/messaging",
	})
	require.NoError(t, err)

	result, err := client.Send(context.Background(), "254712345678", "Receipt MAN-20260828-1A2B3C: KES 100.00 received. Thank you.")
	require.NoError(t, err)
	assert.Equal(t, "Success", result.Status)
	assert.NotEmpty(t, result.MessageID)
	assert.Contains(t, result.MessageID, "dev-")
}
