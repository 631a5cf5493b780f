package contacthttp

import (
	"strings"
	"testing"
)

func TestValidate_RuneLimits(t *testing.T) {
	base := SubmitRequest{Name: "Ada", Email: "ada@example.com", Message: "hi"}
	cases := []struct {
		name  string
		edit  func(*SubmitRequest)
		field string
	}{
		{"message at limit", func(s *SubmitRequest) { s.Message = strings.Repeat("😀", maxMessageLen) }, ""},
		{"message over limit", func(s *SubmitRequest) { s.Message = strings.Repeat("😀", maxMessageLen+1) }, "message"},
		{"name at limit", func(s *SubmitRequest) { s.Name = strings.Repeat("é", maxNameLen) }, ""},
		{"company over limit", func(s *SubmitRequest) { s.Company = strings.Repeat("ü", maxCompanyLen+1) }, "company"},
		{"email over limit", func(s *SubmitRequest) { s.Email = strings.Repeat("a", maxEmailLen) + "@x" }, "email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := base
			tc.edit(&s)
			fe := s.validate()
			switch {
			case tc.field == "" && fe != nil:
				t.Fatalf("validate = %v, want nil", fe)
			case tc.field != "" && (fe == nil || fe.Field != tc.field):
				t.Fatalf("validate = %v, want %s error", fe, tc.field)
			}
		})
	}
}

func TestMaxRequestBytes_FitsEscapedLimits(t *testing.T) {
	// every rune field at its limit, each rune sent as an escaped surrogate pair
	pair := `\ud83d\ude00`
	body := `{"name":"` + strings.Repeat(pair, maxNameLen) +
		`","email":"` + strings.Repeat(`\u0061`, maxEmailLen) +
		`","company":"` + strings.Repeat(pair, maxCompanyLen) +
		`","message":"` + strings.Repeat(pair, maxMessageLen) + `"}`
	if len(body) > MaxRequestBytes {
		t.Fatalf("worst case body = %d bytes, MaxRequestBytes = %d", len(body), MaxRequestBytes)
	}
}
