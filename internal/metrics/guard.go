package metrics

import (
	"github.com/keithlinneman/linnemanlabs-contact/internal/formguard"
	"github.com/keithlinneman/linnemanlabs-contact/internal/kv"
)

// GuardOptions returns formguard hooks that feed the guard counters.
func (m *ServerMetrics) GuardOptions() []formguard.Option {
	return []formguard.Option{
		formguard.WithOnDecision(func(op string, d formguard.Decision) {
			m.IncGuardDecision(op, string(d.Reason))
		}),
		formguard.WithOnReset(m.IncSanitizerReset),
		formguard.WithOnStorageError(func(scope kv.Scope, op string, _ error) {
			m.IncStorageError(string(scope), op)
		}),
		formguard.WithOnFallback(m.IncFallback),
	}
}
