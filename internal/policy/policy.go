package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultDailyCeiling      = 3
	DefaultCooldown          = 60 * time.Second
	DefaultSanityCeiling     = 10
	DefaultLastSubmissionTTL = 24 * time.Hour
	DefaultFormStartTTL      = time.Hour
)

// Policy is the set of limits the submission tracker enforces.
type Policy struct {
	// DailyCeiling is how many submissions a visitor may make per calendar day
	DailyCeiling int
	// Cooldown is the minimum time between two submissions
	Cooldown time.Duration
	// SanityCeiling is the stored counter value above which the counter is considered corrupted
	SanityCeiling int
	// LastSubmissionTTL is how long a last-submission timestamp is trusted
	LastSubmissionTTL time.Duration
	// FormStartTTL is how long a form start timestamp is trusted
	FormStartTTL time.Duration
}

// Default returns the compiled-in policy.
func Default() Policy {
	return Policy{
		DailyCeiling:      DefaultDailyCeiling,
		Cooldown:          DefaultCooldown,
		SanityCeiling:     DefaultSanityCeiling,
		LastSubmissionTTL: DefaultLastSubmissionTTL,
		FormStartTTL:      DefaultFormStartTTL,
	}
}

// Validate reports every invalid field at once.
func (p Policy) Validate() error {
	var errs []error
	if p.DailyCeiling < 1 {
		errs = append(errs, fmt.Errorf("daily_ceiling must be >= 1 (got %d)", p.DailyCeiling))
	}
	if p.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must be >= 0 (got %s)", p.Cooldown))
	}
	// a legitimate counter tops out at DailyCeiling, anything the sanitizer
	// resets must be strictly above that
	if p.SanityCeiling < p.DailyCeiling {
		errs = append(errs, fmt.Errorf("sanity_ceiling (%d) must be >= daily_ceiling (%d)", p.SanityCeiling, p.DailyCeiling))
	}
	if p.LastSubmissionTTL <= 0 {
		errs = append(errs, fmt.Errorf("last_submission_ttl must be > 0 (got %s)", p.LastSubmissionTTL))
	} else if p.LastSubmissionTTL < p.Cooldown {
		errs = append(errs, fmt.Errorf("last_submission_ttl (%s) must be >= cooldown (%s)", p.LastSubmissionTTL, p.Cooldown))
	}
	if p.FormStartTTL <= 0 {
		errs = append(errs, fmt.Errorf("form_start_ttl must be > 0 (got %s)", p.FormStartTTL))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// document is the JSON form of a policy. All fields are optional and are
// overlaid on a base policy so a parameter only needs to carry what changes.
type document struct {
	DailyCeiling             *int   `json:"daily_ceiling,omitempty"`
	CooldownSeconds          *int64 `json:"cooldown_seconds,omitempty"`
	SanityCeiling            *int   `json:"sanity_ceiling,omitempty"`
	LastSubmissionTTLSeconds *int64 `json:"last_submission_ttl_seconds,omitempty"`
	FormStartTTLSeconds      *int64 `json:"form_start_ttl_seconds,omitempty"`
}

// Parse decodes a JSON policy document over base and validates the result.
// Unknown fields are rejected so typos do not silently fall back to defaults.
func Parse(data []byte, base Policy) (Policy, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return Policy{}, fmt.Errorf("decode policy document: %w", err)
	}

	p := base
	if doc.DailyCeiling != nil {
		p.DailyCeiling = *doc.DailyCeiling
	}
	if doc.CooldownSeconds != nil {
		p.Cooldown = time.Duration(*doc.CooldownSeconds) * time.Second
	}
	if doc.SanityCeiling != nil {
		p.SanityCeiling = *doc.SanityCeiling
	}
	if doc.LastSubmissionTTLSeconds != nil {
		p.LastSubmissionTTL = time.Duration(*doc.LastSubmissionTTLSeconds) * time.Second
	}
	if doc.FormStartTTLSeconds != nil {
		p.FormStartTTL = time.Duration(*doc.FormStartTTLSeconds) * time.Second
	}

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy document: %w", err)
	}
	return p, nil
}
