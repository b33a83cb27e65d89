package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePriceText(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  int
		valid bool
	}{
		{"nbsp separated with ruble sign", "1\u00a0500\u00a0000\u00a0₽", 1500000, true},
		{"narrow nbsp and thin space", "2\u202f300\u2009000 ₽", 2300000, true},
		{"figure space and hair space", "750\u2007000\u200a₽", 750000, true},
		{"word joiner", "3\u2060000\u2060000", 3000000, true},
		{"zero width characters removed", "\ufeff1\u200b200 000", 1200000, true},
		{"approximation marker", "~ 980 000 ₽", 980000, true},
		{"almost-equal marker", "≈1 000 000 руб", 1000000, true},
		{"cyrillic short form", "450 000 р", 450000, true},
		{"latin currency code", "450000 RUB", 450000, true},
		{"html entity", "1&nbsp;100&nbsp;000", 1100000, true},
		{"lower bound inclusive", "10 000 ₽", 10000, true},
		{"upper bound inclusive", "1 000 000 000 ₽", 1000000000, true},
		// Values below the bound are usually lot ids or percentages, not prices.
		{"below bound", "~500", 0, false},
		{"just below bound", "9 999 ₽", 0, false},
		{"above bound", "1 000 000 001 ₽", 0, false},
		{"non numeric", "по запросу", 0, false},
		{"decimal separator", "1 500,50 ₽", 0, false},
		{"empty", "", 0, false},
		{"only currency", "₽", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePriceText(tt.raw)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitBrandModel(t *testing.T) {
	tests := []struct {
		raw   string
		brand string
		model string
	}{
		{"LAND ROVER DISCOVERY 4", "Land Rover", "Discovery 4"},
		{"TOYOTA", "Toyota", ""},
		{"toyota corolla fielder", "Toyota", "corolla fielder"},
		{"TOYOTA COROLLA FIELDER", "Toyota", "Corolla Fielder"},
		{"NISSAN GT-R", "Nissan", "GT-R"},
		{"BMW X5", "Bmw", "X5"},
		{"MERCEDES-BENZ E-CLASS", "Mercedes-Benz", "E-CLASS"},
		{"Alfa Romeo Giulia", "Alfa Romeo", "Giulia"},
		{"ASTON MARTIN   DB11", "Aston Martin", "DB11"},
		{"  HONDA   FIT  ", "Honda", "Fit"},
		{"SSANGYONG - REXTON", "SSANGYONG", "REXTON"},
		{"HAVAL — JOLION", "HAVAL", "JOLION"},
		{"GEELY", "GEELY", ""},
		{"", "", ""},
		{"   ", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			brand, model := SplitBrandModel(tt.raw)
			assert.Equal(t, tt.brand, brand)
			assert.Equal(t, tt.model, model)
		})
	}
}

func TestParseBoundedInt(t *testing.T) {
	n, ok := ParseBoundedInt("2015", 1900, 2100)
	assert.True(t, ok)
	assert.Equal(t, 2015, n)

	_, ok = ParseBoundedInt("1850", 1900, 2100)
	assert.False(t, ok)

	_, ok = ParseBoundedInt("20a5", 0, 9999)
	assert.False(t, ok)

	_, ok = ParseBoundedInt("-5", -10, 10)
	assert.False(t, ok)
}

func TestCollapseSpacesAndDigitsOnly(t *testing.T) {
	assert.Equal(t, "a b c", CollapseSpaces(" a  b \t\nc "))
	assert.Equal(t, "COROLLA \uFFFD", CollapseSpaces("COROLLA \xff\xfe"))
	assert.Equal(t, "123456", DigitsOnly("Лот № 123 456"))
	assert.Equal(t, "", DigitsOnly("нет"))
}
