package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequest_StartSetup(t *testing.T) {
	tests := []struct {
		name    string
		req     StartSetupRequest
		wantErr bool
	}{
		{"authenticator", StartSetupRequest{Method: "authenticator"}, false},
		{"email otp", StartSetupRequest{Method: "email_otp"}, false},
		{"missing method", StartSetupRequest{}, true},
		{"backup codes are not enrollable", StartSetupRequest{Method: "backup_code"}, true},
		{"unknown method", StartSetupRequest{Method: "sms"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRequest_VerifySetup(t *testing.T) {
	tests := []struct {
		name    string
		req     VerifySetupRequest
		wantErr bool
	}{
		{"valid", VerifySetupRequest{SessionToken: "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae", Code: "123456"}, false},
		{"missing token", VerifySetupRequest{Code: "123456"}, true},
		{"token not a uuid", VerifySetupRequest{SessionToken: "not-a-uuid", Code: "123456"}, true},
		{"code too short", VerifySetupRequest{SessionToken: "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae", Code: "12345"}, true},
		{"code not numeric", VerifySetupRequest{SessionToken: "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae", Code: "12a456"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRequest_VerifyLogin(t *testing.T) {
	tests := []struct {
		name    string
		req     VerifyLoginRequest
		wantErr bool
	}{
		{"totp code", VerifyLoginRequest{UserID: "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae", Code: "123456"}, false},
		{"backup code with method", VerifyLoginRequest{UserID: "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae", Code: "ABCD2345", Method: "backup_code"}, false},
		{"missing user", VerifyLoginRequest{Code: "123456"}, true},
		{"bad method", VerifyLoginRequest{UserID: "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae", Code: "123456", Method: "sms"}, true},
		{"code too long", VerifyLoginRequest{UserID: "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae", Code: "123456789"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRequest_Policy(t *testing.T) {
	valid := PolicyRequest{
		Enforced:           true,
		AllowedMethods:     []string{"authenticator", "email_otp"},
		GracePeriodDays:    7,
		RememberDeviceDays: 30,
	}
	assert.NoError(t, ValidateRequest(valid))

	noMethods := valid
	noMethods.AllowedMethods = []string{}
	assert.Error(t, ValidateRequest(noMethods))

	badMethod := valid
	badMethod.AllowedMethods = []string{"sms"}
	assert.Error(t, ValidateRequest(badMethod))

	negativeGrace := valid
	negativeGrace.GracePeriodDays = -1
	assert.Error(t, ValidateRequest(negativeGrace))
}

func TestIsValidCodeFormat(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"ABCD2345", true},
		{"abcd2345", true}, // normalized later
		{"12345", false},
		{"1234567", false},
		{"12345a", false},
		{"ABCD0145", false}, // 0 and 1 are not in the charset
		{"ABCDILOZ", false}, // I, L, O are not in the charset
		{"abcdiloz", false}, // same exclusions apply lowercase
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidCodeFormat(tt.code), "code %q", tt.code)
		})
	}
}
