// Package scanner turns keyboard-wedge barcode scanner input into codes.
//
// A scanner "types" the code much faster than a person and finishes with
// Enter (some models send Tab). The decoder keeps a buffer of printable keys
// and only emits it when every gap between keys, including the terminator,
// stayed within MaxKeyGap. A slower gap means a person is typing, so the
// buffer restarts from that key.
package scanner

import (
	"sort"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	KeyEnter = "Enter"
	KeyTab   = "Tab"
)

const (
	SymbologyEAN13 = "EAN-13"
	SymbologyEAN8  = "EAN-8"
	SymbologyUPCA  = "UPC-A"
	SymbologyOther = "CODE128"
)

type Config struct {
	MaxKeyGap time.Duration
	MinLength int
	MaxLength int
}

func DefaultConfig() Config {
	return Config{MaxKeyGap: 50 * time.Millisecond, MinLength: 4, MaxLength: 64}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxKeyGap <= 0 {
		c.MaxKeyGap = d.MaxKeyGap
	}
	if c.MinLength < 1 {
		c.MinLength = d.MinLength
	}
	if c.MaxLength < c.MinLength {
		c.MaxLength = d.MaxLength
	}
	return c
}

type Keystroke struct {
	Key string
	At  time.Time
}

type Scan struct {
	Code       string
	Symbology  string
	CheckValid bool
	StartedAt  time.Time
	Duration   time.Duration
}

type Decoder struct {
	cfg     Config
	buf     []rune
	started time.Time
	last    time.Time
}

func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg.withDefaults()}
}

// Feed consumes one keystroke and returns a scan when it completes one.
func (d *Decoder) Feed(k Keystroke) (Scan, bool) {
	if k.Key == KeyEnter || k.Key == KeyTab || k.Key == "\n" || k.Key == "\r" {
		return d.terminate(k.At)
	}

	r, size := utf8.DecodeRuneInString(k.Key)
	if size == 0 || size != len(k.Key) || !unicode.IsPrint(r) {
		// modifier and navigation keys
		return Scan{}, false
	}

	if len(d.buf) > 0 && k.At.Sub(d.last) > d.cfg.MaxKeyGap {
		d.Reset()
	}
	if len(d.buf) >= d.cfg.MaxLength {
		d.Reset()
	}
	if len(d.buf) == 0 {
		d.started = k.At
	}
	d.buf = append(d.buf, r)
	d.last = k.At
	return Scan{}, false
}

func (d *Decoder) terminate(at time.Time) (Scan, bool) {
	defer d.Reset()
	if len(d.buf) < d.cfg.MinLength || len(d.buf) > d.cfg.MaxLength {
		return Scan{}, false
	}
	if at.Sub(d.last) > d.cfg.MaxKeyGap {
		return Scan{}, false
	}
	code := string(d.buf)
	symbology, valid := Classify(code)
	return Scan{
		Code:       code,
		Symbology:  symbology,
		CheckValid: valid,
		StartedAt:  d.started,
		Duration:   at.Sub(d.started),
	}, true
}

func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.started = time.Time{}
	d.last = time.Time{}
}

// Pending returns the buffered, not yet terminated input.
func (d *Decoder) Pending() string {
	return string(d.buf)
}

// DecodeAll decodes a recorded batch of keystrokes in time order.
func DecodeAll(cfg Config, keys []Keystroke) []Scan {
	sorted := make([]Keystroke, len(keys))
	copy(sorted, keys)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	d := NewDecoder(cfg)
	scans := make([]Scan, 0, 4)
	for _, k := range sorted {
		if scan, ok := d.Feed(k); ok {
			scans = append(scans, scan)
		}
	}
	return scans
}

// Classify names the symbology of code and, for GS1 numeric codes, whether
// its check digit is valid. Non-GS1 codes are reported as valid.
func Classify(code string) (string, bool) {
	if !allDigits(code) {
		return SymbologyOther, true
	}
	switch len(code) {
	case 13:
		return SymbologyEAN13, ValidCheckDigit(code)
	case 12:
		return SymbologyUPCA, ValidCheckDigit(code)
	case 8:
		return SymbologyEAN8, ValidCheckDigit(code)
	default:
		return SymbologyOther, true
	}
}

// ValidCheckDigit verifies the GS1 mod-10 check digit of a numeric code.
func ValidCheckDigit(code string) bool {
	if len(code) < 2 || !allDigits(code) {
		return false
	}
	return CheckDigit(code[:len(code)-1]) == int(code[len(code)-1]-'0')
}

// CheckDigit computes the GS1 check digit for the payload (code without its
// final digit). Weights alternate 3,1 starting from the rightmost digit.
func CheckDigit(payload string) int {
	total := 0
	weight := 3
	for i := len(payload) - 1; i >= 0; i-- {
		total += int(payload[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	return (10 - total%10) % 10
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
