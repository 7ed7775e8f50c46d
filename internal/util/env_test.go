package util

import (
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("LP_TEST_STRING", "value")
	t.Setenv("LP_TEST_INT", "12")
	t.Setenv("LP_TEST_BAD_INT", "twelve")
	t.Setenv("LP_TEST_DURATION", "1500ms")
	t.Setenv("LP_TEST_BOOL", "true")
	t.Setenv("LP_TEST_BAD_BOOL", "yes")

	if got := GetEnvString("LP_TEST_STRING", "x"); got != "value" {
		t.Fatalf("GetEnvString() = %q", got)
	}
	if got := GetEnvString("LP_TEST_MISSING", "x"); got != "x" {
		t.Fatalf("GetEnvString() default = %q", got)
	}
	if got := GetEnvInt("LP_TEST_INT", 1); got != 12 {
		t.Fatalf("GetEnvInt() = %d", got)
	}
	if got := GetEnvInt("LP_TEST_BAD_INT", 1); got != 1 {
		t.Fatalf("GetEnvInt() invalid = %d, want default", got)
	}
	if got := GetEnvDuration("LP_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("GetEnvDuration() = %s", got)
	}
	if got := GetEnvDuration("LP_TEST_MISSING", time.Second); got != time.Second {
		t.Fatalf("GetEnvDuration() default = %s", got)
	}
	if !GetEnvBool("LP_TEST_BOOL", false) {
		t.Fatal("GetEnvBool() = false, want true")
	}
	if GetEnvBool("LP_TEST_BAD_BOOL", false) {
		t.Fatal("GetEnvBool() invalid should fall back to default")
	}
}
