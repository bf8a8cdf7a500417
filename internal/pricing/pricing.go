// Package pricing вычисляет сумму оплаты для выбранного платёжного провайдера.
package pricing

import "strconv"

// Поддерживаемые платёжные провайдеры.
const (
	MethodPayOS  = "PAYOS"
	MethodPayPal = "PAYPAL"
)

// PayPalBaseUSD — фиксированная базовая цена для PayPal в долларах,
// чаевые прибавляются к ней без конвертации валют.
const PayPalBaseUSD = 5

// Quote возвращает сумму к оплате в единицах провайдера: для PayOS это
// итоговая цена в донгах, для PayPal — базовая цена плюс целые чаевые в
// долларах. Одно и то же значение используется и при инициации платежа,
// и при показе итога, поэтому расхождений между ними не бывает.
func Quote(method string, totalVND, tip int64) int64 {
	if method == MethodPayPal {
		if tip < 0 {
			tip = 0
		}
		return PayPalBaseUSD + tip
	}
	return totalVND
}

// ApplyDiscount возвращает цену после применения скидки в процентах.
func ApplyDiscount(amount int64, percent int) int64 {
	if percent <= 0 {
		return amount
	}
	if percent >= 100 {
		return 0
	}
	return amount * int64(100-percent) / 100
}

// Format возвращает сумму в виде строки с валютой провайдера.
func Format(method string, amount int64) string {
	if method == MethodPayPal {
		return "$" + strconv.FormatInt(amount, 10)
	}
	return FormatVND(amount)
}

// FormatVND форматирует сумму в донгах с разделителями тысяч.
func FormatVND(amount int64) string {
	raw := strconv.FormatInt(amount, 10)

	neg := false
	if len(raw) > 0 && raw[0] == '-' {
		neg = true
		raw = raw[1:]
	}

	var out []byte
	for i, c := range []byte(raw) {
		if i > 0 && (len(raw)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}

	s := string(out)
	if neg {
		s = "-" + s
	}
	return s + " VNĐ"
}
