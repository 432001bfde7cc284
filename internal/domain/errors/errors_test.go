package errors

import (
	"errors"
	"testing"
)

func TestPetsyncError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *PetsyncError
		want string
	}{
		{
			name: "with cause",
			err:  NewError(CodeSecrets, "decrypt call failed", ErrDecryptFailed),
			want: "[SECRETS] decrypt call failed: secret decryption failed",
		},
		{
			name: "without cause",
			err:  NewError(CodeNotFound, "device document missing", nil),
			want: "[NOT_FOUND] device document missing",
		},
		{
			name: "store error",
			err:  NewError(CodeStore, "merge write failed", ErrStoreClosed),
			want: "[STORE] merge write failed: document store closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPetsyncError_Unwrap(t *testing.T) {
	cause := ErrDeviceRevoked
	err := NewError(CodeAuth, "device validation failed", cause)

	if !errors.Is(err, ErrDeviceRevoked) {
		t.Error("errors.Is should match the wrapped sentinel")
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestWithContext(t *testing.T) {
	err := NewError(CodeExecution, "command failed", nil)
	err = WithContext(err, "action", "restart_gateway")

	if err.Context["action"] != "restart_gateway" {
		t.Errorf("Context[action] = %v, want restart_gateway", err.Context["action"])
	}
}

func TestAs(t *testing.T) {
	var target *PetsyncError
	err := NewError(CodeGateway, "stream failed", nil)

	if !As(err, &target) {
		t.Fatal("As should match PetsyncError")
	}
	if target.Code != CodeGateway {
		t.Errorf("Code = %v, want %v", target.Code, CodeGateway)
	}
}
