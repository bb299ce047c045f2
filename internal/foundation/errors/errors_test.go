package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "holocommander.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		file, exists := err.Context().GetString("file")
		if !exists || file != "holocommander.yaml" {
			t.Errorf("expected context file=holocommander.yaml, got %v", file)
		}
	})

	t.Run("Sentinel survives context and wrapping", func(t *testing.T) {
		err := ErrNotConnected.WithContext("operation", "reboot")
		wrapped := fmt.Errorf("reboot lab-01: %w", err)

		if !errors.Is(wrapped, ErrNotConnected) {
			t.Error("expected wrapped error to match ErrNotConnected")
		}
		if !HasCategory(wrapped, CategoryNotConnected) {
			t.Error("expected not_connected category through wrapping")
		}
		if _, ok := ErrNotConnected.Context().Get("operation"); ok {
			t.Error("WithContext must not mutate the sentinel")
		}
	})

	t.Run("Category found in joined errors", func(t *testing.T) {
		joined := errors.Join(
			errors.New("plain"),
			fmt.Errorf("terminate: %w", OperationFailed("terminate application").Build()),
		)

		if !HasCategory(joined, CategoryOperation) {
			t.Error("expected operation category inside joined error")
		}
		if HasCategory(joined, CategoryAuth) {
			t.Error("unexpected auth category")
		}
	})

	t.Run("Cause is unwrapped", func(t *testing.T) {
		rpc := errors.New("503 service unavailable")
		err := OperationFailed("terminate application").WithCause(rpc).Build()

		if !errors.Is(err, rpc) {
			t.Error("expected error to wrap the rpc error")
		}
		if err.CanRetry() {
			t.Error("operation failures are not retried")
		}
	})
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name     string
		builder  *ErrorBuilder
		category ErrorCategory
		retry    RetryStrategy
	}{
		{"ConnectionError", ConnectionError("test"), CategoryConnection, RetryUserAction},
		{"HandshakeFailed", HandshakeFailed("test"), CategoryHandshake, RetryHeartbeat},
		{"NotConnectedError", NotConnectedError("test"), CategoryNotConnected, RetryHeartbeat},
		{"OperationFailed", OperationFailed("test"), CategoryOperation, RetryNever},
		{"NetworkError", NetworkError("test"), CategoryNetwork, RetryBackoff},
		{"ConfigError", ConfigError("test"), CategoryConfig, RetryNever},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.builder.Build()
			if err.Category() != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category())
			}
			if err.RetryStrategy() != tt.retry {
				t.Errorf("expected retry strategy %s, got %s", tt.retry, err.RetryStrategy())
			}
		})
	}
}

func TestErrorContextMerge(t *testing.T) {
	ctx1 := ErrorContext{}.Set("key1", "value1").Set("shared", "original")
	ctx2 := ErrorContext{}.Set("key2", "value2").Set("shared", "overridden")

	merged := ctx1.Merge(ctx2)

	shared, _ := merged.GetString("shared")
	if shared != "overridden" {
		t.Errorf("expected shared=overridden, got %s", shared)
	}
	if v, _ := merged.GetString("key1"); v != "value1" {
		t.Errorf("expected key1=value1, got %s", v)
	}
}
