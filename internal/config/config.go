package config

import (
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/zawadi/giving-gateway/pkg/logger"
)

var config *Config

// Config holds every env-driven value used by the gateway. Only this struct
// may be used to read configuration; no direct env access elsewhere.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"giving_gateway"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	QueueName              string        `env:"QUEUE_NAME" default:"receipts"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"receipt-dispatchers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ"`

	// Contribution rules. The minimum is in cents so KES 1.00 is 100.
	ContributionMinAmountCents int64 `env:"CONTRIBUTION_MIN_AMOUNT_CENTS" default:"100"`
	ContributionMaxCategories  int   `env:"CONTRIBUTION_MAX_CATEGORIES" default:"10"`

	// M-Pesa Daraja credentials
	MpesaBaseUrl        string `env:"MPESA_BASE_URL" default:"https://sandbox.safaricom.co.ke"`
	MpesaConsumerKey    string `env:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret string `env:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode      string `env:"MPESA_SHORT_CODE"`
	MpesaPasskey        string `env:"MPESA_PASSKEY"`
	MpesaCallbackUrl    string `env:"MPESA_CALLBACK_URL"`

	// SMS provider credentials. With an empty API key the gateway runs in
	// dev mode and prints messages to the log instead of delivering them.
	SmsApiKey      string `env:"SMS_API_KEY"`
	SmsUsername    string `env:"SMS_USERNAME"`
	SmsSenderId    string `env:"SMS_SENDER_ID"`
	SmsEndpointUrl string `env:"SMS_ENDPOINT_URL" default:"https://api.africastalking.com/version1/messaging"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the loaded configuration. Tests use it to avoid touching the
// process environment.
func Set(c *Config) {
	config = c
}
