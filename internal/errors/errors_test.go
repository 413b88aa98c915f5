package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeUnknown,
		CodeValidation,
		CodeConfiguration,
		CodeCanceled,
		CodeNotFound,
		CodeInvalidStrategy,
		CodeScanState,
		CodeBatchIncomplete,
		CodeTargetInvalid,
		CodeResolution,
		CodeCapacityExceeded,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if string(code) == "" {
			t.Errorf("Error code %v should not be empty", code)
		}
		if seen[code] {
			t.Errorf("Error code %s is duplicated", code)
		}
		seen[code] = true
	}
}

func TestScanError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := NewScanError(CodeScanState, "scan already started")
		if err.Code != CodeScanState {
			t.Errorf("Expected code %s, got %s", CodeScanState, err.Code)
		}
		if err.Context == nil {
			t.Error("Context should be initialized")
		}
		expected := "[SCAN_STATE] scan already started"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("error with target", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeTargetInvalid, "bad target", "192.168.1.1")
		expected := "[TARGET_INVALID] bad target (target: 192.168.1.1)"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("wrapped error with target", func(t *testing.T) {
		cause := fmt.Errorf("too many open files")
		err := WrapScanErrorWithTarget(CodeBatchIncomplete, "scan incomplete", "10.0.0.1", cause)
		if err.Unwrap() != cause {
			t.Error("Should unwrap to original error")
		}
		expected := "[BATCH_INCOMPLETE] scan incomplete (target: 10.0.0.1): too many open files"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("with context", func(t *testing.T) {
		err := ErrInvalidStrategy("turbo")
		if err.Context["strategy"] != "turbo" {
			t.Errorf("Expected strategy 'turbo', got %v", err.Context["strategy"])
		}
	})
}

func TestConfigError(t *testing.T) {
	err := ErrConfigInvalid("scanning.timeout", "0s")
	if err.Code != CodeValidation {
		t.Errorf("Expected code %s, got %s", CodeValidation, err.Code)
	}
	expected := "[VALIDATION] invalid configuration value (field: scanning.timeout)"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}

	cause := errors.New("yaml: line 3")
	wrapped := WrapConfigError(CodeConfiguration, "failed to parse config", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Wrapped config error should match its cause")
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"direct scan error", ErrInvalidStrategy("x"), CodeInvalidStrategy, true},
		{"wrapped scan error", fmt.Errorf("outer: %w", ErrInvalidStrategy("x")), CodeInvalidStrategy, true},
		{"config error", ErrConfigInvalid("f", 1), CodeValidation, true},
		{"different code", ErrInvalidTarget("t"), CodeResolution, false},
		{"plain error", errors.New("plain"), CodeUnknown, true},
		{"nil error", nil, CodeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Errorf("IsCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJoinKeepsAllCauses(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	joined := Join(first, nil, second)
	if !Is(joined, first) || !Is(joined, second) {
		t.Errorf("Join should keep both causes, got %v", joined)
	}
	if Join(nil, nil) != nil {
		t.Error("Join of nils should be nil")
	}

	var scanErr *ScanError
	if !As(fmt.Errorf("ctx: %w", ErrResolution("example.test", first)), &scanErr) {
		t.Fatal("As should find the scan error")
	}
	if scanErr.Target != "example.test" {
		t.Errorf("Expected target example.test, got %s", scanErr.Target)
	}
}
