package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, uint64(25), cfg.MaxReorgBlocks)
	assert.Equal(t, 15*time.Second, cfg.GasRefreshInterval)
	assert.Equal(t, 1.0, cfg.FeeFactor)
}

func TestLoadParsesGasPriceCap(t *testing.T) {
	v := viper.New()
	v.Set("gas_price_cap", "500000000000000000000")
	cfg, err := Load(v)
	require.NoError(t, err)
	require.NotNil(t, cfg.GasPriceCap)
	assert.Equal(t, "500000000000000000000", cfg.GasPriceCap.String())
}

func TestLoadRejectsZeroFeeFactor(t *testing.T) {
	v := viper.New()
	v.Set("fee_factor", 0)
	_, err := Load(v)
	require.Error(t, err)
}

func TestLoadParsesAddressLists(t *testing.T) {
	v := viper.New()
	v.Set("banned_users", []string{"0x0000000000000000000000000000000000000001"})
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Len(t, cfg.BannedUsers, 1)
}
