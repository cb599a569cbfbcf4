package auth

import (
	"strings"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

const (
	otpDigits = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

// normalizeAndCheckEmail applies the one normalization rule and rejects
// addresses without a local part and a domain.
func normalizeAndCheckEmail(email string) (string, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return "", domain.ErrMissingField("email")
	}
	if domain.EmailDomain(email) == "" || strings.ContainsAny(email, " \t\r\n") {
		return "", domain.ErrInvalidField("email", "invalid format")
	}
	return email, nil
}

func checkPassword(field, password string) error {
	if password == "" {
		return domain.ErrMissingField(field)
	}
	if len(password) > maxPasswordBytes {
		return domain.ErrInvalidField(field, "longer than 72 bytes")
	}
	return nil
}

// checkOTPFormat accepts exactly six ASCII digits.
func checkOTPFormat(otp string) error {
	if otp == "" {
		return domain.ErrMissingField("otp")
	}
	if len(otp) != otpDigits {
		return domain.ErrInvalidField("otp", "must be 6 digits")
	}
	for i := 0; i < len(otp); i++ {
		if otp[i] < '0' || otp[i] > '9' {
			return domain.ErrInvalidField("otp", "must be 6 digits")
		}
	}
	return nil
}

func otpMailBody(code string) string {
	return "Your OTP code is: " + code
}
