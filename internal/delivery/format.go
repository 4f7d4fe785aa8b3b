package delivery

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Formatter renders a price line such as "TON Price: *2.35$*".
type Formatter struct {
	Label    string
	Suffix   string
	Markdown bool // MarkdownV2: bold value, reserved characters escaped
}

// Format renders price with two decimals, rounding half away from zero.
func (f Formatter) Format(price float64) string {
	value := decimal.NewFromFloat(price).StringFixed(2) + f.Suffix
	if !f.Markdown {
		return f.Label + ": " + value
	}
	return EscapeMarkdownV2(f.Label) + ": *" + EscapeMarkdownV2(value) + "*"
}

const markdownV2Reserved = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 backslash-escapes every character Telegram reserves in MarkdownV2.
func EscapeMarkdownV2(s string) string {
	if !strings.ContainsAny(s, markdownV2Reserved) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownV2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
