package wa

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// DefaultCountryCode is prefixed to local numbers that start with 0.
const DefaultCountryCode = "92"

// NormalizePhone reduces phone to the international digits WhatsApp uses:
// "0300-1234567" and "+92 300 1234567" both become "923001234567".
func NormalizePhone(phone, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "00"):
		return digits[2:]
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	}
	return digits
}

// JIDFromPhone builds the user JID for phone.
func JIDFromPhone(phone, countryCode string) types.JID {
	return types.NewJID(NormalizePhone(phone, countryCode), types.DefaultUserServer)
}
