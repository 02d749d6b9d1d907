// Package validation holds the pure input rules for ticket drafts.
package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	TitleMinLength       = 10
	TitleMaxLength       = 100
	DescriptionMinLength = 20
)

var titleCharset = regexp.MustCompile(`^[\p{L}\p{N}\s.,!?\-_:;'"()/&#@+]+$`)

// Failure describes why a value was rejected.
type Failure struct {
	Field  string
	Rule   string
	Reason string
}

func (f *Failure) Error() string {
	return f.Reason
}

// Rule identifiers.
const (
	RuleTooShort     = "too_short"
	RuleTooLong      = "too_long"
	RuleInvalidChars = "invalid_characters"
	RuleEmpty        = "empty"
)

// Sanitize removes control characters (newline and tab survive) and trims
// surrounding whitespace.
func Sanitize(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(cleaned)
}

// ValidateTitle checks an already sanitized title.
func ValidateTitle(title string) *Failure {
	length := utf8.RuneCountInString(title)
	switch {
	case length < TitleMinLength:
		return &Failure{Field: "title", Rule: RuleTooShort,
			Reason: "The title is too short: use at least 10 characters."}
	case length > TitleMaxLength:
		return &Failure{Field: "title", Rule: RuleTooLong,
			Reason: "The title is too long: use at most 100 characters."}
	case !titleCharset.MatchString(title):
		return &Failure{Field: "title", Rule: RuleInvalidChars,
			Reason: "The title contains unsupported characters. Use letters, digits, spaces and basic punctuation."}
	}
	return nil
}

// ValidateDescription checks an already sanitized description.
func ValidateDescription(description string) *Failure {
	if utf8.RuneCountInString(description) < DescriptionMinLength {
		return &Failure{Field: "description", Rule: RuleTooShort,
			Reason: "The description is too short: use at least 20 characters."}
	}
	return nil
}

// ValidateComment checks an already sanitized comment body.
func ValidateComment(body string) *Failure {
	if body == "" {
		return &Failure{Field: "comment", Rule: RuleEmpty, Reason: "The comment is empty."}
	}
	return nil
}
