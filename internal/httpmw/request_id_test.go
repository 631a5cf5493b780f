package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		inbound string
		keep    bool
	}{
		{"minted when missing", "", "", false},
		{"propagates alb trace id", "", "Root-1-67891233-abcdef012345678912345678", true},
		{"propagates uuid", "", "2f1b0e6c-8f1e-4a43-9a8e-3b8a1a6c7d10", true},
		{"custom header", "X-Correlation-Id", "abc.123_x", true},
		{"rejects spaces", "", "id with spaces", false},
		{"rejects newline", "", "id\nX-Evil: 1", false},
		{"rejects oversize", "", strings.Repeat("a", maxRequestIDLen+1), false},
		{"rejects quotes", "", `a"b`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hdr := tc.header
			if hdr == "" {
				hdr = "X-Request-Id"
			}
			var seen string
			h := RequestID(tc.header)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			r := httptest.NewRequest(http.MethodPost, "/api/contact/", nil)
			if tc.inbound != "" {
				r.Header[http.CanonicalHeaderKey(hdr)] = []string{tc.inbound}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Header().Get(hdr) != seen {
				t.Fatalf("echoed %q, context %q", rec.Header().Get(hdr), seen)
			}
			if tc.keep {
				if seen != tc.inbound {
					t.Fatalf("id = %q, want inbound %q", seen, tc.inbound)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("minted id %q is not a uuid: %v", seen, err)
			}
		})
	}
}

func TestRequestID_Unique(t *testing.T) {
	seen := map[string]bool{}
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[RequestIDFromContext(r.Context())] = true
	}))
	for i := 0; i < 100; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if len(seen) != 100 {
		t.Fatalf("unique ids = %d, want 100", len(seen))
	}
}

func TestRequestIDContext(t *testing.T) {
	if RequestIDFromContext(t.Context()) != "" {
		t.Fatal("empty context has an id")
	}
	if RequestIDFromContext(WithRequestID(t.Context(), "")) != "" {
		t.Fatal("empty id stored")
	}
	if RequestIDFromContext(WithRequestID(t.Context(), "r-1")) != "r-1" {
		t.Fatal("round trip failed")
	}
}
