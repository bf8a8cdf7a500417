package pricing

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		totalVND int64
		tip      int64
		want     int64
	}{
		{name: "payos uses vnd total", method: MethodPayOS, totalVND: 150000, tip: 3, want: 150000},
		{name: "paypal base only", method: MethodPayPal, totalVND: 150000, tip: 0, want: 5},
		{name: "paypal base plus tip", method: MethodPayPal, totalVND: 150000, tip: 4, want: 9},
		{name: "paypal negative tip ignored", method: MethodPayPal, totalVND: 0, tip: -2, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quote(tt.method, tt.totalVND, tt.tip)
			if got != tt.want {
				t.Fatalf("Quote() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQuote_InitiateAndDisplayAgree(t *testing.T) {
	// Сумма инициации и сумма в итоговом сообщении берутся из одного
	// вызова, значит должны совпадать в точности.
	initiated := Quote(MethodPayPal, 150000, 7)
	displayed := Quote(MethodPayPal, 150000, 7)
	if initiated != displayed {
		t.Fatalf("initiated %d != displayed %d", initiated, displayed)
	}
}

func TestApplyDiscount(t *testing.T) {
	if got := ApplyDiscount(150000, 10); got != 135000 {
		t.Fatalf("ApplyDiscount(150000, 10) = %d, want 135000", got)
	}
	if got := ApplyDiscount(150000, 0); got != 150000 {
		t.Fatalf("ApplyDiscount(150000, 0) = %d, want 150000", got)
	}
	if got := ApplyDiscount(150000, 100); got != 0 {
		t.Fatalf("ApplyDiscount(150000, 100) = %d, want 0", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(MethodPayOS, 150000); got != "150,000 VNĐ" {
		t.Fatalf("Format payos = %q", got)
	}
	if got := Format(MethodPayPal, 9); got != "$9" {
		t.Fatalf("Format paypal = %q", got)
	}
	if got := FormatVND(1234567); got != "1,234,567 VNĐ" {
		t.Fatalf("FormatVND = %q", got)
	}
	if got := FormatVND(0); got != "0 VNĐ" {
		t.Fatalf("FormatVND zero = %q", got)
	}
}
