package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Money хранит денежную сумму в минимальных единицах валюты (сотых долях).
type Money int64

const moneyScale = 100

// MinAmount задаёт минимальный бюджет заказа и минимальную сумму предложения.
const MinAmount Money = 1 * moneyScale

// ParseMoney разбирает десятичную строку вида "50", "50.5" или "50.00" без перехода к float64.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	if s[0] == '-' {
		negative = true
		s = s[1:]
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && frac == "") {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two fractional digits", s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("malformed amount %q", s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	if units > (1<<63-1)/moneyScale-1 {
		return 0, fmt.Errorf("amount %q is too large", s)
	}

	var cents int64
	if frac != "" {
		for len(frac) < 2 {
			frac += "0"
		}
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}

	v := units*moneyScale + cents
	if negative {
		v = -v
	}
	return Money(v), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String возвращает сумму с двумя знаками после точки.
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/moneyScale, v%moneyScale)
}

// MarshalJSON кодирует сумму числовым литералом, например 50.00.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON принимает как число, так и строку.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("amount is required")
	}

	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode amount: %w", err)
		}
	} else {
		raw = string(data)
	}

	v, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
