package policy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

const testSSMParam = "/app/linnemanlabs-contact/policy"

// fakeSSM returns a configurable parameter value or error
type fakeSSM struct {
	mu    sync.Mutex
	value *string
	err   error
	calls int
	names []string
}

func ssmWithValue(v string) *fakeSSM { return &fakeSSM{value: aws.String(v)} }

func (f *fakeSSM) set(v string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = aws.String(v)
	f.err = err
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.names = append(f.names, aws.ToString(in.Name))
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

func newTestLoader(t *testing.T, fake *fakeSSM) *Loader {
	t.Helper()
	l, err := NewLoader(LoaderOptions{
		Logger:    log.Nop(),
		SSMParam:  testSSMParam,
		SSMClient: fake,
	})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func TestNewLoader_RequiresParam(t *testing.T) {
	if _, err := NewLoader(LoaderOptions{SSMClient: &fakeSSM{}}); err == nil {
		t.Fatal("expected error without SSMParam")
	}
}

func TestNewLoader_RequiresClient(t *testing.T) {
	if _, err := NewLoader(LoaderOptions{SSMParam: testSSMParam}); err == nil {
		t.Fatal("expected error without SSMClient")
	}
}

func TestNewLoader_RejectsInvalidBase(t *testing.T) {
	bad := Policy{}
	if _, err := NewLoader(LoaderOptions{SSMParam: testSSMParam, SSMClient: &fakeSSM{}, Base: &bad}); err == nil {
		t.Fatal("expected error for invalid base policy")
	}
}

func TestLoader_FetchDocument(t *testing.T) {
	fake := ssmWithValue("  {\"daily_ceiling\":4}\n")
	l := newTestLoader(t, fake)

	doc, version, err := l.FetchDocument(context.Background())
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if doc != `{"daily_ceiling":4}` {
		t.Fatalf("doc = %q, want trimmed document", doc)
	}
	if len(version) != 12 {
		t.Fatalf("version = %q, want 12 hex chars", version)
	}
	if fake.names[0] != testSSMParam {
		t.Fatalf("requested %q, want %q", fake.names[0], testSSMParam)
	}
}

func TestLoader_FetchDocument_VersionTracksContent(t *testing.T) {
	fake := ssmWithValue(`{"daily_ceiling":4}`)
	l := newTestLoader(t, fake)

	_, v1, _ := l.FetchDocument(context.Background())
	_, v1again, _ := l.FetchDocument(context.Background())
	fake.set(`{"daily_ceiling":5}`, nil)
	_, v2, _ := l.FetchDocument(context.Background())

	if v1 != v1again {
		t.Fatalf("same document produced different versions %q vs %q", v1, v1again)
	}
	if v1 == v2 {
		t.Fatal("different documents should produce different versions")
	}
}

func TestLoader_FetchDocument_Errors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeSSM
	}{
		{"ssm error", &fakeSSM{err: errors.New("access denied")}},
		{"nil value", &fakeSSM{}},
		{"blank value", ssmWithValue("   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoader(t, tt.fake)
			if _, _, err := l.FetchDocument(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoader_LoadIntoManager(t *testing.T) {
	l := newTestLoader(t, ssmWithValue(`{"daily_ceiling":5,"cooldown_seconds":10}`))
	m := NewManager()

	if err := l.LoadIntoManager(context.Background(), m); err != nil {
		t.Fatalf("LoadIntoManager: %v", err)
	}
	if m.Source() != SourceSSM {
		t.Fatalf("Source = %q, want ssm", m.Source())
	}
	if got := m.Policy().DailyCeiling; got != 5 {
		t.Fatalf("DailyCeiling = %d, want 5", got)
	}
}

func TestLoader_LoadIntoManager_InvalidKeepsCurrent(t *testing.T) {
	l := newTestLoader(t, ssmWithValue(`{"daily_ceiling":0}`))
	m := NewManager()
	m.Set(Snapshot{Policy: Default(), Source: SourceDefault})

	if err := l.LoadIntoManager(context.Background(), m); err == nil {
		t.Fatal("expected error for invalid document")
	}
	if m.Source() != SourceDefault {
		t.Fatal("invalid document must not replace the active policy")
	}
}

func TestLoader_CustomBase(t *testing.T) {
	base := Default()
	base.Cooldown = 0
	l, err := NewLoader(LoaderOptions{SSMParam: testSSMParam, SSMClient: ssmWithValue(`{}`), Base: &base})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	snap, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Policy.Cooldown != 0 {
		t.Fatalf("Cooldown = %s, want base value 0", snap.Policy.Cooldown)
	}
}
