package contacthttp

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameLen    = 200
	maxEmailLen   = 254
	maxCompanyLen = 200
	maxMessageLen = 5000
)

// MaxRequestBytes is the largest body a valid submission can need. The
// limits count runes, and JSON may send a rune as an escaped surrogate pair
// of 12 bytes. Email is capped in bytes, at most 6 each once escaped.
const MaxRequestBytes = 12*(maxNameLen+maxCompanyLen+maxMessageLen) + 6*maxEmailLen + 4<<10

// SubmitRequest is the body of POST /api/contact.
type SubmitRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Message string `json:"message"`
}

// fieldError names the first field that failed validation.
type fieldError struct {
	Field  string
	Reason string
}

func (e *fieldError) Error() string { return e.Field + ": " + e.Reason }

func (s *SubmitRequest) normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Email = strings.TrimSpace(s.Email)
	s.Company = strings.TrimSpace(s.Company)
	s.Message = strings.TrimSpace(s.Message)
}

// validate checks shape only. Deliverability of the address is not our concern.
func (s *SubmitRequest) validate() *fieldError {
	switch {
	case s.Name == "":
		return &fieldError{"name", "required"}
	case utf8.RuneCountInString(s.Name) > maxNameLen:
		return &fieldError{"name", "too long"}
	case s.Email == "":
		return &fieldError{"email", "required"}
	case len(s.Email) > maxEmailLen:
		return &fieldError{"email", "too long"}
	case !plausibleEmail(s.Email):
		return &fieldError{"email", "invalid"}
	case utf8.RuneCountInString(s.Company) > maxCompanyLen:
		return &fieldError{"company", "too long"}
	case s.Message == "":
		return &fieldError{"message", "required"}
	case utf8.RuneCountInString(s.Message) > maxMessageLen:
		return &fieldError{"message", "too long"}
	}
	return nil
}

func plausibleEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	return strings.IndexFunc(s, unicode.IsSpace) < 0
}
