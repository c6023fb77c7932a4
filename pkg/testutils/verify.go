package testutils

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
)

// VerifyError checks that a (multi)error carries the expected number of
// errors and the expected message substrings, or else it fails the test.
func VerifyError(t *testing.T, err error, expectedCount int, expectedSubstrings []string) bool {
	switch {
	case expectedCount == 0:
		if err != nil {
			t.Errorf("expected no error, got %v", err)
			return false
		}
	case expectedCount == 1:
		if err == nil {
			t.Errorf("error expected, got nil")
			return false
		}
	default:
		merr, ok := err.(*multierror.Error)
		if !ok {
			t.Errorf("expected %d errors, but got %#v instead of a multierror", expectedCount, err)
			return false
		}
		if len(merr.Errors) != expectedCount {
			t.Errorf("expected %d errors, but got %d: %v", expectedCount, len(merr.Errors), merr)
			return false
		}
	}
	for _, substring := range expectedSubstrings {
		if !strings.Contains(err.Error(), substring) {
			t.Errorf("expected error with substring %#v, got %q", substring, err)
		}
	}
	return true
}
