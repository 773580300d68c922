// Package minio is the S3-compatible object storage client authgate uses to
// keep a warm-start copy of the verified key-set snapshot.
//
// The client wraps minio-go (github.com/minio/minio-go/v7), adds
// OpenTelemetry spans and [sserr] error classification, and exposes the
// byte-oriented PutObject/GetObject pair that keyset.ObjectClient expects:
//
//	client, err := minio.NewClient(ctx, cfg)
//	if err != nil { ... }
//	store := keyset.NewObjectStore(client, client.Bucket(), "")
//
// A missing object or bucket is reported with [sserr.CodeNotFound]. For
// tests, inject a mock with [NewFromStore].
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/clients/minio"

// ObjectStore is the subset of minio-go that [Client] wraps.
// *minio.Client satisfies it.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client is a traced MinIO client. It is safe for concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, creates the minio-go client and checks the
// configured bucket. With CreateBucket set a missing bucket is created.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: server unreachable
//   - [sserr.CodeNotFound]: bucket missing and CreateBucket unset
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "minio: failed to create client")
	}

	c := &Client{
		store:  mc,
		config: &cfg,
		tracer: otel.Tracer(tracerName),
	}
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromStore wraps an existing ObjectStore, typically a mock. cfg may be
// nil.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	if c.config.Bucket == "" {
		return DefaultBucket
	}
	return c.config.Bucket
}

// EnsureBucket checks that the configured bucket exists and creates it
// when CreateBucket is set.
func (c *Client) EnsureBucket(ctx context.Context) error {
	bucket := c.Bucket()
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucket, "BucketExists "+bucket)
	exists, err := c.store.BucketExists(ctx, bucket)
	if err != nil {
		finishSpan(span, err)
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	if exists {
		finishSpan(span, nil)
		return nil
	}
	if !c.config.CreateBucket {
		err := sserr.Newf(sserr.CodeNotFound, "minio: bucket %q does not exist", bucket)
		finishSpan(span, err)
		return err
	}
	err = c.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region})
	if err != nil && isAlreadyOwned(err) {
		// Another replica created it first.
		err = nil
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: failed to create bucket")
	}
	return nil
}

// PutObject uploads data as bucket/name.
func (c *Client) PutObject(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	ctx, span := c.startSpan(ctx, "PutObject", bucket, "PutObject "+name)
	_, err := c.store.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: put object failed")
	}
	return nil
}

// GetObject downloads bucket/name. Objects larger than
// [DefaultMaxObjectBytes] are rejected.
func (c *Client) GetObject(ctx context.Context, bucket, name string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "GetObject", bucket, "GetObject "+name)
	data, err := c.readObject(ctx, bucket, name)
	if isNotFound(err) {
		finishSpan(span, nil)
		return nil, sserr.Wrap(err, sserr.CodeNotFound,
			fmt.Sprintf("minio: object %q not found", name))
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: get object failed")
	}
	return data, nil
}

func (c *Client) readObject(ctx context.Context, bucket, name string) ([]byte, error) {
	obj, err := c.store.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	// minio-go defers the request until the first read, so a missing
	// key surfaces here.
	data, err := io.ReadAll(io.LimitReader(obj, DefaultMaxObjectBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > DefaultMaxObjectBytes {
		return nil, fmt.Errorf("object exceeds %d bytes", DefaultMaxObjectBytes)
	}
	return data, nil
}

// RemoveObject deletes bucket/name. Removing a missing object succeeds.
func (c *Client) RemoveObject(ctx context.Context, bucket, name string) error {
	ctx, span := c.startSpan(ctx, "RemoveObject", bucket, "RemoveObject "+name)
	err := c.store.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: remove object failed")
	}
	return nil
}

// Health checks that the server answers for the configured bucket.
//
// Error codes returned:
//   - [sserr.CodeUnavailableDependency]: health check failed
func (c *Client) Health(ctx context.Context) error {
	bucket := c.Bucket()
	ctx, span := c.startSpan(ctx, "Health", bucket, "BucketExists "+bucket)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

// Close is a no-op; minio-go holds no persistent connections that need
// releasing. It exists so all clients share one shutdown shape.
func (c *Client) Close() error {
	return nil
}

func (c *Client) startSpan(ctx context.Context, operationName, bucketName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucketName),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// isNotFound reports whether err is an S3 missing key or bucket response.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func isAlreadyOwned(err error) bool {
	return minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou"
}

// wrapError classifies err: a deadline is [sserr.CodeTimeoutDatabase],
// anything else [sserr.CodeInternalDatabase].
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
