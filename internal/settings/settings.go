// Package settings converts between the typed store settings and the
// key/value rows they are persisted as.
package settings

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // store timezones must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"

	"retailpos/backend/internal/domain"
)

var ErrInvalid = errors.New("invalid settings")

const (
	KeyStoreName                 = "store_name"
	KeyStoreAddress              = "store_address"
	KeyStorePhone                = "store_phone"
	KeyStoreEmail                = "store_email"
	KeyCurrency                  = "currency"
	KeyTaxRatePercent            = "tax_rate_percent"
	KeyTaxInclusive              = "tax_inclusive"
	KeyReceiptFooter             = "receipt_footer"
	KeyLowStockThreshold         = "low_stock_threshold"
	KeyLoyaltyEnabled            = "loyalty_enabled"
	KeyLoyaltySpendPerPointCents = "loyalty_spend_per_point_cents"
	KeyMaxCashierDiscountPercent = "max_cashier_discount_percent"
	KeyStorefrontEnabled         = "storefront_enabled"
	KeyTimezone                  = "timezone"
)

func Defaults() domain.Settings {
	return domain.Settings{
		StoreName:                 "Retail POS",
		Currency:                  "IDR",
		TaxRatePercent:            11,
		ReceiptFooter:             "Terima kasih sudah berbelanja",
		LowStockThreshold:         5,
		LoyaltyEnabled:            true,
		LoyaltySpendPerPointCents: 1000000,
		MaxCashierDiscountPercent: 10,
		StorefrontEnabled:         true,
		Timezone:                  "Asia/Jakarta",
	}
}

// Location resolves the store timezone used for business days. An empty or
// unknown zone falls back to UTC.
func Location(s domain.Settings) *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadFile overlays the YAML file at path onto base. Keys missing from the
// file keep the base value.
func LoadFile(path string, base domain.Settings) (domain.Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read settings file: %w", err)
	}
	out := base
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return base, fmt.Errorf("parse settings file: %w", err)
	}
	if err := Validate(out); err != nil {
		return base, err
	}
	return out, nil
}

// ToMap flattens settings into persisted key/value rows.
func ToMap(s domain.Settings) map[string]string {
	return map[string]string{
		KeyStoreName:                 s.StoreName,
		KeyStoreAddress:              s.StoreAddress,
		KeyStorePhone:                s.StorePhone,
		KeyStoreEmail:                s.StoreEmail,
		KeyCurrency:                  s.Currency,
		KeyTaxRatePercent:            strconv.FormatFloat(s.TaxRatePercent, 'f', -1, 64),
		KeyTaxInclusive:              strconv.FormatBool(s.TaxInclusive),
		KeyReceiptFooter:             s.ReceiptFooter,
		KeyLowStockThreshold:         strconv.Itoa(s.LowStockThreshold),
		KeyLoyaltyEnabled:            strconv.FormatBool(s.LoyaltyEnabled),
		KeyLoyaltySpendPerPointCents: strconv.FormatInt(s.LoyaltySpendPerPointCents, 10),
		KeyMaxCashierDiscountPercent: strconv.FormatFloat(s.MaxCashierDiscountPercent, 'f', -1, 64),
		KeyStorefrontEnabled:         strconv.FormatBool(s.StorefrontEnabled),
		KeyTimezone:                  s.Timezone,
	}
}

// FromMap reads persisted rows over base. Unknown keys are ignored and
// values that do not parse keep the base value.
func FromMap(values map[string]string, base domain.Settings) domain.Settings {
	out := base
	for key, raw := range values {
		value := strings.TrimSpace(raw)
		switch key {
		case KeyStoreName:
			out.StoreName = value
		case KeyStoreAddress:
			out.StoreAddress = value
		case KeyStorePhone:
			out.StorePhone = value
		case KeyStoreEmail:
			out.StoreEmail = value
		case KeyCurrency:
			out.Currency = value
		case KeyReceiptFooter:
			out.ReceiptFooter = value
		case KeyTimezone:
			out.Timezone = value
		case KeyTaxRatePercent:
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				out.TaxRatePercent = v
			}
		case KeyMaxCashierDiscountPercent:
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				out.MaxCashierDiscountPercent = v
			}
		case KeyLowStockThreshold:
			if v, err := strconv.Atoi(value); err == nil {
				out.LowStockThreshold = v
			}
		case KeyLoyaltySpendPerPointCents:
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				out.LoyaltySpendPerPointCents = v
			}
		case KeyTaxInclusive:
			if v, err := strconv.ParseBool(value); err == nil {
				out.TaxInclusive = v
			}
		case KeyLoyaltyEnabled:
			if v, err := strconv.ParseBool(value); err == nil {
				out.LoyaltyEnabled = v
			}
		case KeyStorefrontEnabled:
			if v, err := strconv.ParseBool(value); err == nil {
				out.StorefrontEnabled = v
			}
		}
	}
	return out
}

// Apply returns s with every non-nil field of req set.
func Apply(s domain.Settings, req domain.SettingsUpdateRequest) domain.Settings {
	if req.StoreName != nil {
		s.StoreName = strings.TrimSpace(*req.StoreName)
	}
	if req.StoreAddress != nil {
		s.StoreAddress = strings.TrimSpace(*req.StoreAddress)
	}
	if req.StorePhone != nil {
		s.StorePhone = strings.TrimSpace(*req.StorePhone)
	}
	if req.StoreEmail != nil {
		s.StoreEmail = strings.TrimSpace(*req.StoreEmail)
	}
	if req.Currency != nil {
		s.Currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
	}
	if req.TaxRatePercent != nil {
		s.TaxRatePercent = *req.TaxRatePercent
	}
	if req.TaxInclusive != nil {
		s.TaxInclusive = *req.TaxInclusive
	}
	if req.ReceiptFooter != nil {
		s.ReceiptFooter = strings.TrimSpace(*req.ReceiptFooter)
	}
	if req.LowStockThreshold != nil {
		s.LowStockThreshold = *req.LowStockThreshold
	}
	if req.LoyaltyEnabled != nil {
		s.LoyaltyEnabled = *req.LoyaltyEnabled
	}
	if req.LoyaltySpendPerPointCents != nil {
		s.LoyaltySpendPerPointCents = *req.LoyaltySpendPerPointCents
	}
	if req.MaxCashierDiscountPercent != nil {
		s.MaxCashierDiscountPercent = *req.MaxCashierDiscountPercent
	}
	if req.StorefrontEnabled != nil {
		s.StorefrontEnabled = *req.StorefrontEnabled
	}
	if req.Timezone != nil {
		s.Timezone = strings.TrimSpace(*req.Timezone)
	}
	return s
}

func Validate(s domain.Settings) error {
	if strings.TrimSpace(s.StoreName) == "" {
		return fmt.Errorf("%w: store_name is required", ErrInvalid)
	}
	if len(s.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalid)
	}
	if !validPercent(s.TaxRatePercent) {
		return fmt.Errorf("%w: tax_rate_percent must be between 0 and 100", ErrInvalid)
	}
	if !validPercent(s.MaxCashierDiscountPercent) {
		return fmt.Errorf("%w: max_cashier_discount_percent must be between 0 and 100", ErrInvalid)
	}
	if s.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low_stock_threshold must be >= 0", ErrInvalid)
	}
	if s.LoyaltyEnabled && s.LoyaltySpendPerPointCents < 1 {
		return fmt.Errorf("%w: loyalty_spend_per_point_cents must be >= 1", ErrInvalid)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalid, s.Timezone)
		}
	}
	return nil
}

func validPercent(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}
