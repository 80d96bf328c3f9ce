package unit

import (
	"strings"

	"github.com/core-tools/hsu-unitd/pkg/errors"
)

// NameFlags selects which unit name forms a validation accepts.
type NameFlags int

const (
	// NamePlain accepts "foo.service"
	NamePlain NameFlags = 1 << iota
	// NameInstance accepts "foo@bar.service"
	NameInstance
	// NameTemplate accepts "foo@.service"
	NameTemplate

	NameAny = NamePlain | NameInstance | NameTemplate
)

const maxNameLength = 255

func isValidNameChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ':' || c == '-' || c == '_' || c == '.' || c == '\\'
}

// ValidateName checks a unit name against the name grammar: a non-empty
// prefix, an optional "@instance" part, and a suffix naming a known unit
// kind. Which of the plain/instance/template forms are acceptable is
// selected by flags.
func ValidateName(name string, flags NameFlags) error {
	if name == "" {
		return errors.NewInvalidArgumentError("unit name cannot be empty", nil)
	}
	if len(name) > maxNameLength {
		return errors.NewInvalidArgumentError("unit name too long", nil).WithContext("name", name)
	}

	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return errors.NewInvalidArgumentError("unit name has no type suffix", nil).WithContext("name", name)
	}
	if _, ok := KindFromName(name); !ok {
		return errors.NewInvalidArgumentError("unit name has unknown type suffix", nil).WithContext("name", name)
	}

	body := name[:dot]
	for _, c := range body {
		if c != '@' && !isValidNameChar(c) {
			return errors.NewInvalidArgumentError("unit name contains invalid characters", nil).WithContext("name", name)
		}
	}

	at := strings.IndexByte(body, '@')
	switch {
	case at < 0:
		if flags&NamePlain == 0 {
			return errors.NewInvalidArgumentError("plain unit name not acceptable here", nil).WithContext("name", name)
		}
	case at == 0:
		return errors.NewInvalidArgumentError("unit name has empty prefix", nil).WithContext("name", name)
	default:
		instance := body[at+1:]
		if strings.ContainsRune(instance, '@') {
			return errors.NewInvalidArgumentError("unit name has multiple instance separators", nil).WithContext("name", name)
		}
		if instance == "" {
			if flags&NameTemplate == 0 {
				return errors.NewInvalidArgumentError("template unit name not acceptable here", nil).WithContext("name", name)
			}
		} else if flags&NameInstance == 0 {
			return errors.NewInvalidArgumentError("instance unit name not acceptable here", nil).WithContext("name", name)
		}
	}

	return nil
}
