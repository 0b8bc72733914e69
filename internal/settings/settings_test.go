package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func TestMapRoundTripKeepsEveryField(t *testing.T) {
	in := Defaults()
	in.StoreAddress = "Jl. Merdeka 1"
	in.TaxInclusive = true
	in.TaxRatePercent = 7.5

	out := FromMap(ToMap(in), domain.Settings{})
	assert.Equal(t, in, out)
}

func TestFromMapIgnoresUnparseableValues(t *testing.T) {
	base := Defaults()
	out := FromMap(map[string]string{
		KeyTaxRatePercent:    "eleven",
		KeyStorefrontEnabled: "false",
		"unknown":            "x",
	}, base)

	assert.Equal(t, base.TaxRatePercent, out.TaxRatePercent)
	assert.False(t, out.StorefrontEnabled)
}

func TestApplyAndValidate(t *testing.T) {
	rate := 120.0
	currency := " usd "
	updated := Apply(Defaults(), domain.SettingsUpdateRequest{TaxRatePercent: &rate, Currency: &currency})

	assert.Equal(t, "USD", updated.Currency)
	err := Validate(updated)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	rate = 10
	require.NoError(t, Validate(Apply(Defaults(), domain.SettingsUpdateRequest{TaxRatePercent: &rate})))
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "store_name: Toko Maju\ntax_rate_percent: 10\ntax_inclusive: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loaded, err := LoadFile(path, Defaults())
	require.NoError(t, err)
	assert.Equal(t, "Toko Maju", loaded.StoreName)
	assert.Equal(t, 10.0, loaded.TaxRatePercent)
	assert.True(t, loaded.TaxInclusive)
	assert.Equal(t, Defaults().Currency, loaded.Currency)
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("currency: RUPIAH\n"), 0o600))

	_, err := LoadFile(path, Defaults())
	require.Error(t, err)
}

func TestTimezoneValidationAndLocation(t *testing.T) {
	zone := "Mars/Olympus"
	err := Validate(Apply(Defaults(), domain.SettingsUpdateRequest{Timezone: &zone}))
	assert.ErrorIs(t, err, ErrInvalid)

	assert.Equal(t, time.UTC, Location(domain.Settings{}))
	assert.Equal(t, time.UTC, Location(domain.Settings{Timezone: zone}))

	utc := "UTC"
	s := Apply(Defaults(), domain.SettingsUpdateRequest{Timezone: &utc})
	require.NoError(t, Validate(s))
	assert.Equal(t, "UTC", Location(s).String())
}
