package obd

import "fmt"

// TranslateResponseCode describes a KWP2000 negative response code.
func TranslateResponseCode(code byte) string {
	switch code {
	case 0x10:
		return "general reject"
	case 0x11:
		return "service not supported"
	case 0x12:
		return "sub-function not supported, invalid format"
	case 0x21:
		return "busy, repeat request"
	case 0x22:
		return "conditions not correct or request sequence error"
	case 0x23:
		return "routine not complete"
	case 0x31:
		return "request out of range"
	case 0x33:
		return "security access denied"
	case 0x35:
		return "invalid key"
	case 0x36:
		return "exceeded number of attempts"
	case 0x37:
		return "required time delay not expired"
	case 0x78:
		return "response pending"
	case 0x80:
		return "service not supported in active diagnostic session"
	default:
		return fmt.Sprintf("unknown response code 0x%02X", code)
	}
}
