package logging

import "testing"

func TestNewAcceptsKnownFormats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := New("info", format)
		if err != nil {
			t.Fatalf("format %q: %v", format, err)
		}
		_ = logger.Sync()
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected invalid format to fail")
	}
}
