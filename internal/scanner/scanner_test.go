package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typed(start time.Time, text string, gap time.Duration) []Keystroke {
	keys := make([]Keystroke, 0, len(text)+1)
	at := start
	for _, r := range text {
		keys = append(keys, Keystroke{Key: string(r), At: at})
		at = at.Add(gap)
	}
	keys = append(keys, Keystroke{Key: KeyEnter, At: at})
	return keys
}

func TestDecodeAllRecognisesFastBurst(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	scans := DecodeAll(DefaultConfig(), typed(start, "4006381333931", 8*time.Millisecond))

	require.Len(t, scans, 1)
	assert.Equal(t, "4006381333931", scans[0].Code)
	assert.Equal(t, SymbologyEAN13, scans[0].Symbology)
	assert.True(t, scans[0].CheckValid)
	assert.Equal(t, 13*8*time.Millisecond, scans[0].Duration)
}

func TestDecodeAllIgnoresHumanTyping(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	scans := DecodeAll(DefaultConfig(), typed(start, "12345678", 180*time.Millisecond))
	assert.Empty(t, scans)
}

func TestSlowPrefixIsDroppedBeforeBurst(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	keys := []Keystroke{
		{Key: "x", At: start},
		{Key: "y", At: start.Add(300 * time.Millisecond)},
	}
	keys = append(keys, typed(start.Add(time.Second), "96385074", 5*time.Millisecond)...)

	scans := DecodeAll(DefaultConfig(), keys)
	require.Len(t, scans, 1)
	assert.Equal(t, "96385074", scans[0].Code)
	assert.Equal(t, SymbologyEAN8, scans[0].Symbology)
}

func TestSlowTerminatorIsRejected(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	d := NewDecoder(DefaultConfig())
	for i, r := range "ABC-1234" {
		_, ok := d.Feed(Keystroke{Key: string(r), At: start.Add(time.Duration(i) * 5 * time.Millisecond)})
		require.False(t, ok)
	}
	_, ok := d.Feed(Keystroke{Key: KeyEnter, At: start.Add(2 * time.Second)})
	assert.False(t, ok)
	assert.Empty(t, d.Pending())
}

func TestShortBurstsAndModifierKeys(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	d := NewDecoder(Config{MinLength: 4})
	keys := []Keystroke{
		{Key: "Shift", At: start},
		{Key: "A", At: start.Add(2 * time.Millisecond)},
		{Key: "B", At: start.Add(4 * time.Millisecond)},
		{Key: KeyTab, At: start.Add(6 * time.Millisecond)},
	}
	for _, k := range keys {
		_, ok := d.Feed(k)
		assert.False(t, ok)
	}

	scans := DecodeAll(Config{}, typed(start, "SKU-MIE-01", 3*time.Millisecond))
	require.Len(t, scans, 1)
	assert.Equal(t, SymbologyOther, scans[0].Symbology)
	assert.True(t, scans[0].CheckValid)
}

func TestDecodeAllSortsOutOfOrderBatches(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	keys := typed(start, "036000291452", 4*time.Millisecond)
	keys[0], keys[5] = keys[5], keys[0]

	scans := DecodeAll(DefaultConfig(), keys)
	require.Len(t, scans, 1)
	assert.Equal(t, "036000291452", scans[0].Code)
	assert.Equal(t, SymbologyUPCA, scans[0].Symbology)
	assert.True(t, scans[0].CheckValid)
}

func TestClassifyDetectsBadCheckDigit(t *testing.T) {
	symbology, valid := Classify("4006381333932")
	assert.Equal(t, SymbologyEAN13, symbology)
	assert.False(t, valid)

	assert.Equal(t, 1, CheckDigit("400638133393"))
	assert.True(t, ValidCheckDigit("8991001000019"))
}
