package session

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateNameAccepts(t *testing.T) {
	for _, name := range []string{"main", "work2", "x", "alice_phone", "0711-test", strings.Repeat("a", 32)} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
}

func TestValidateNameRejects(t *testing.T) {
	tests := []struct {
		input  string
		reason string
	}{
		{"", "empty"},
		{strings.Repeat("a", 33), "longer than"},
		{"Main", "lowercase"},
		{"-watch", "starting with"},
		{"_hidden", "starting with"},
		{"two words", "lowercase"},
		{"../etc", "lowercase"},
		{"bunny.chat", "lowercase"},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		var nameErr *NameError
		if !errors.As(err, &nameErr) {
			t.Errorf("ValidateName(%q) = %v, want *NameError", tt.input, err)
			continue
		}
		if nameErr.Name != tt.input {
			t.Errorf("NameError.Name = %q, want %q", nameErr.Name, tt.input)
		}
		if !strings.Contains(err.Error(), tt.reason) {
			t.Errorf("ValidateName(%q) = %q, want reason containing %q", tt.input, err, tt.reason)
		}
	}
}
