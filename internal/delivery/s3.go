package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// S3API is the subset of the S3 client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Logger log.Logger

	// messages are written to s3://{Bucket}/{Prefix}/YYYY/MM/DD/{id}.json
	Bucket string
	Prefix string

	Client S3API
}

type S3Sink struct {
	opts   S3Options
	logger log.Logger
}

func NewS3Sink(opts S3Options) (*S3Sink, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Client == nil {
		return nil, xerrors.New("Client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &S3Sink{opts: opts, logger: opts.Logger}, nil
}

// objectKey returns the key for m, assigning an id if it has none.
func (s *S3Sink) objectKey(m *Message) string {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	day := m.ReceivedAt.UTC().Format("2006/01/02")
	if s.opts.Prefix == "" {
		return path.Join(day, m.ID+".json")
	}
	return path.Join(s.opts.Prefix, day, m.ID+".json")
}

func (s *S3Sink) Deliver(ctx context.Context, m Message) error {
	key := s.objectKey(&m)

	body, err := json.Marshal(m)
	if err != nil {
		return xerrors.Wrap(err, "marshal contact message")
	}

	_, err = s.opts.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.opts.Bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return xerrors.Wrapf(err, "put S3 object s3://%s/%s", s.opts.Bucket, key)
	}

	s.logger.Info(ctx, "stored contact message",
		"bucket", s.opts.Bucket,
		"key", key,
		"message_id", m.ID,
		"bytes", len(body),
	)
	return nil
}
