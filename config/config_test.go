package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CHECKOUT_CURRENCY", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "eur", cfg.Payment.Currency)
	assert.Equal(t, 300, cfg.Business.LibraryCacheTTLSeconds)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CHECKOUT_CURRENCY", "USD")
	t.Setenv("FRONTEND_URL", "https://shop.example/")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "usd", cfg.Payment.Currency)
	assert.Equal(t, "https://shop.example/checkout/success?session_id={CHECKOUT_SESSION_ID}", cfg.Payment.SuccessURL())
	assert.Equal(t, "https://shop.example/checkout/cancel", cfg.Payment.CancelURL())
}
