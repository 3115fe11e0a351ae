package utils

import "testing"

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{12.345, "12.35"},
		{999.999, "1,000.00"},
		{1234567.891, "1,234,567.89"},
		{-10020.5, "-10,020.50"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in); got != tt.want {
			t.Errorf("FormatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPnL(t *testing.T) {
	if got := FormatPnL(20); got != "+20.00" {
		t.Errorf("FormatPnL(20) = %q", got)
	}
	if got := FormatPnL(-5.5); got != "-5.50" {
		t.Errorf("FormatPnL(-5.5) = %q", got)
	}
	if got := FormatMoney(10000, "EUR"); got != "10,000.00 EUR" {
		t.Errorf("FormatMoney = %q", got)
	}
}

func TestFormatQuantityAndPrice(t *testing.T) {
	if got := FormatQuantity(0.12345678912); got != "0.12345679" {
		t.Errorf("FormatQuantity = %q", got)
	}
	if got := FormatQuantity(2); got != "2" {
		t.Errorf("FormatQuantity(2) = %q", got)
	}
	if got := FormatPrice(43250.5); got != "43,250.50" {
		t.Errorf("FormatPrice(43250.5) = %q", got)
	}
	if got := FormatPrice(1.5); got != "1.5000" {
		t.Errorf("FormatPrice(1.5) = %q", got)
	}
	if got := FormatPercent(-1.234); got != "-1.23%" {
		t.Errorf("FormatPercent = %q", got)
	}
}
