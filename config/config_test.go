package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, int64(500000), cfg.Business.FreeShippingThreshold)
	assert.Equal(t, int64(30000), cfg.Business.FlatShippingFee)
	assert.Equal(t, 15*time.Minute, cfg.Payment.LinkTTL)
	assert.Equal(t, 10*time.Second, cfg.Payment.ProviderTimeout)
	assert.False(t, cfg.Database.MigrateOnStart)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FREE_SHIPPING_THRESHOLD", "200000")
	t.Setenv("FLAT_SHIPPING_FEE", "15000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MIGRATIONS_AUTORUN", "true")

	cfg := Load()

	assert.Equal(t, int64(200000), cfg.Business.FreeShippingThreshold)
	assert.Equal(t, int64(15000), cfg.Business.FlatShippingFee)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Database.MigrateOnStart)
}
