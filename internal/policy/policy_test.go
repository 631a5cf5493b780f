package policy

import (
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestDefault_CeilingsDiffer(t *testing.T) {
	p := Default()
	if p.DailyCeiling >= p.SanityCeiling {
		t.Fatalf("daily ceiling %d should be below sanity ceiling %d", p.DailyCeiling, p.SanityCeiling)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
		want   string
	}{
		{"zero daily", func(p *Policy) { p.DailyCeiling = 0 }, "daily_ceiling"},
		{"negative cooldown", func(p *Policy) { p.Cooldown = -time.Second }, "cooldown"},
		{"sanity below daily", func(p *Policy) { p.DailyCeiling = 5; p.SanityCeiling = 4 }, "sanity_ceiling"},
		{"zero last ttl", func(p *Policy) { p.LastSubmissionTTL = 0 }, "last_submission_ttl"},
		{"last ttl below cooldown", func(p *Policy) { p.Cooldown = 2 * time.Hour; p.LastSubmissionTTL = time.Hour }, "last_submission_ttl"},
		{"zero form ttl", func(p *Policy) { p.FormStartTTL = 0 }, "form_start_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	p := Policy{}
	err := p.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"daily_ceiling", "last_submission_ttl", "form_start_ttl"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("joined error missing %q: %v", field, err)
		}
	}
}

func TestValidate_ZeroCooldownAllowed(t *testing.T) {
	p := Default()
	p.Cooldown = 0
	if err := p.Validate(); err != nil {
		t.Fatalf("zero cooldown should be valid: %v", err)
	}
}

func TestParse_Overlay(t *testing.T) {
	p, err := Parse([]byte(`{"daily_ceiling":5,"cooldown_seconds":120}`), Default())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.DailyCeiling != 5 {
		t.Errorf("DailyCeiling = %d, want 5", p.DailyCeiling)
	}
	if p.Cooldown != 2*time.Minute {
		t.Errorf("Cooldown = %s, want 2m", p.Cooldown)
	}
	// untouched fields keep the base values
	if p.SanityCeiling != DefaultSanityCeiling {
		t.Errorf("SanityCeiling = %d, want %d", p.SanityCeiling, DefaultSanityCeiling)
	}
	if p.FormStartTTL != DefaultFormStartTTL {
		t.Errorf("FormStartTTL = %s, want %s", p.FormStartTTL, DefaultFormStartTTL)
	}
}

func TestParse_AllFields(t *testing.T) {
	doc := `{
		"daily_ceiling": 4,
		"cooldown_seconds": 30,
		"sanity_ceiling": 20,
		"last_submission_ttl_seconds": 3600,
		"form_start_ttl_seconds": 600
	}`
	p, err := Parse([]byte(doc), Default())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Policy{
		DailyCeiling:      4,
		Cooldown:          30 * time.Second,
		SanityCeiling:     20,
		LastSubmissionTTL: time.Hour,
		FormStartTTL:      10 * time.Minute,
	}
	if p != want {
		t.Fatalf("Parse = %+v, want %+v", p, want)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte(`{"daily_cieling":5}`), Default()); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParse_RejectsInvalidResult(t *testing.T) {
	_, err := Parse([]byte(`{"daily_ceiling":50}`), Default())
	if err == nil {
		t.Fatal("expected error when daily ceiling exceeds sanity ceiling")
	}
	if !strings.Contains(err.Error(), "invalid policy document") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, doc := range []string{"", "{", "[]", `{"daily_ceiling":"3"}`} {
		if _, err := Parse([]byte(doc), Default()); err == nil {
			t.Errorf("Parse(%q) should fail", doc)
		}
	}
}
