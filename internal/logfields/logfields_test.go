package logfields

import (
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Device", KeyDevice, "lab-01", Device("lab-01")},
		{"Address", KeyAddress, "https://10.0.0.5", Address("https://10.0.0.5")},
		{"Operation", KeyOperation, "reboot", Operation("reboot")},
		{"Package", KeyPackage, "App_1.0.0.0_x64", Package("App_1.0.0.0_x64")},
		{"File", KeyFile, "capture.mp4", File("capture.mp4")},
		{"State", KeyState, "connected", State("connected")},
		{"TaskID", KeyTaskID, "t1", TaskID("t1")},
		{"Subject", KeySubject, "devices.lab-01", Subject("devices.lab-01")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestDurationHelper(t *testing.T) {
	attr := Duration(1500 * time.Microsecond)
	if attr.Key != KeyDurationMS {
		t.Fatalf("Duration key mismatch: %s", attr.Key)
	}
	if attr.Value.Float64() != 1.5 {
		t.Fatalf("expected 1.5ms, got %v", attr.Value.Float64())
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
