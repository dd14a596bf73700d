package session

import (
	"regexp"
	"strings"
)

const maxNameLen = 32

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// NameError reports a session name that cannot be used as a directory under
// the sessions root.
type NameError struct {
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	return "invalid session name " + quote(e.Name) + ": " + e.Reason
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// ValidateName accepts lowercase letters, digits, '-' and '_', starting with
// a letter or digit so a name is never mistaken for a flag.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &NameError{Name: name, Reason: "empty"}
	case len(name) > maxNameLen:
		return &NameError{Name: name, Reason: "longer than 32 characters"}
	case !namePattern.MatchString(name):
		return &NameError{Name: name, Reason: "use lowercase letters, digits, '-' or '_', starting with a letter or digit"}
	}
	return nil
}
