package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// SSMAPI is the subset of the SSM client the loader uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter holding the JSON policy document
	SSMParam  string
	SSMClient SSMAPI

	// Base is overlaid by each document, zero value uses Default()
	Base *Policy
}

type Loader struct {
	opts   LoaderOptions
	ssm    SSMAPI
	base   Policy
	logger log.Logger
}

// NewLoader creates a policy loader reading from SSM
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.SSMClient == nil {
		return nil, xerrors.New("SSMClient is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	base := Default()
	if opts.Base != nil {
		base = *opts.Base
	}
	if err := base.Validate(); err != nil {
		return nil, xerrors.Wrap(err, "base policy")
	}
	return &Loader{
		opts:   opts,
		ssm:    opts.SSMClient,
		base:   base,
		logger: opts.Logger,
	}, nil
}

// FetchDocument returns the raw policy document and its version (short sha256).
func (l *Loader) FetchDocument(ctx context.Context) (doc string, version string, err error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	doc = strings.TrimSpace(*out.Parameter.Value)
	if doc == "" {
		return "", "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}
	return doc, documentVersion(doc), nil
}

// Parse decodes a fetched document over the loader's base policy.
func (l *Loader) Parse(doc, version string) (*Snapshot, error) {
	p, err := Parse([]byte(doc), l.base)
	if err != nil {
		return nil, xerrors.Wrapf(err, "policy version %s", version)
	}
	return &Snapshot{Policy: p, Source: SourceSSM, Version: version}, nil
}

// Load fetches and parses the current document.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	doc, version, err := l.FetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	return l.Parse(doc, version)
}

// LoadIntoManager loads the current document and swaps it into m.
func (l *Loader) LoadIntoManager(ctx context.Context, m *Manager) error {
	snap, err := l.Load(ctx)
	if err != nil {
		return err
	}
	m.Set(*snap)
	l.logger.Info(ctx, "loaded rate limit policy from SSM",
		"ssm_param", l.opts.SSMParam,
		"policy_version", snap.Version,
		"daily_ceiling", snap.Policy.DailyCeiling,
		"cooldown", snap.Policy.Cooldown.String(),
	)
	return nil
}

func documentVersion(doc string) string {
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])[:12]
}
