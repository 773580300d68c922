// Package postgres is the PostgreSQL client behind authgate's database
// endpoints. Every request-scoped statement runs inside [Client.WithSession],
// which switches the transaction to the caller's role and publishes the
// verified claims as request.jwt.claims so row-level security policies
// can read them:
//
//	err := client.WithSession(ctx, postgres.Session{
//		Role:    identity.Role(),
//		Subject: identity.ID(),
//		Claims:  map[string]any{"sub": identity.ID(), "role": identity.Role()},
//	}, func(ctx context.Context, tx pgx.Tx) error {
//		return tx.QueryRow(ctx, "SELECT auth.uid()").Scan(&uid)
//	})
//
// The pool comes from pgxpool (github.com/jackc/pgx/v5); tests inject
// pgxmock through [NewFromPool]. All operations emit OpenTelemetry spans
// and return [sserr] errors.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/clients/postgres"

// sessionSQL scopes the role and claims to the current transaction.
const sessionSQL = "SELECT set_config('role', $1, true), " +
	"set_config('request.jwt.claims', $2, true), " +
	"set_config('request.jwt.claim.sub', $3, true)"

// Pool is the subset of pgxpool that [Client] wraps. *pgxpool.Pool and
// pgxmock pools satisfy it.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Session is the database identity of one request.
type Session struct {
	// Role is the database role to assume. It must be in
	// Config.AllowedRoles.
	Role string

	// Subject is the user id, published as request.jwt.claim.sub.
	Subject string

	// Claims are published as JSON in request.jwt.claims.
	Claims map[string]any
}

// Client is a traced PostgreSQL client. It is safe for concurrent use.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient validates cfg, creates the pool and pings the server. Call
// [Client.Close] when done.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeInternalConfiguration]: TLS setup failure
//   - [sserr.CodeUnavailableDependency]: server unreachable
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "postgres: invalid configuration")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "postgres: failed to parse connection string")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to connect to database")
	}

	dbName := cfg.Database
	if cfg.URI != "" {
		if u, parseErr := url.Parse(cfg.URI); parseErr == nil {
			dbName = strings.TrimPrefix(u.Path, "/")
		}
	}

	return &Client{
		pool:         pool,
		config:       &cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: dbName,
	}, nil
}

// NewFromPool wraps an existing Pool, typically pgxmock. cfg may be nil.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
	}
}

// WithSession runs fn in a transaction that has assumed s.Role and
// published s.Claims. The transaction commits when fn returns nil and rolls
// back otherwise; fn's error is returned unchanged.
//
// Error codes returned:
//   - [sserr.CodeAuthorization]: role not in the allow list
//   - [sserr.CodeTimeoutDatabase], [sserr.CodeInternalDatabase]: database failure
func (c *Client) WithSession(ctx context.Context, s Session, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	if !c.config.roleAllowed(s.Role) {
		return sserr.Forbidden("postgres: role may not be assumed").WithDetail("role", s.Role)
	}
	claims := s.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	encoded, err := json.Marshal(claims)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "postgres: failed to encode session claims")
	}

	ctx, span := c.startSpan(ctx, "WithSession", sessionSQL)
	span.SetAttributes(attribute.String("db.user", s.Role))
	defer func() { finishSpan(span, err) }()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return wrapError(err, "postgres: begin transaction failed")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, sessionSQL, s.Role, string(encoded), s.Subject); err != nil {
		return wrapError(err, "postgres: failed to set session")
	}
	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return wrapError(err, "postgres: commit failed")
	}
	return nil
}

// Query runs sql outside any session. The caller closes the rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		finishSpan(span, err)
		return nil, wrapError(err, "postgres: query failed")
	}
	// Row errors surface during iteration.
	finishSpan(span, nil)
	return rows, nil
}

// QueryRow runs sql outside any session. Errors are deferred to Scan and
// are not recorded on the span.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	defer span.End()
	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement that returns no rows.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)
	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// Health pings the server, applying [DefaultHealthTimeout] when ctx has no
// deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: health check failed")
	}
	return nil
}

// Close releases the pool. It waits for acquired connections.
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

func (c *Client) startSpan(ctx context.Context, operationName, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
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

// wrapError classifies err: a deadline or cancellation is
// [sserr.CodeTimeoutDatabase], anything else [sserr.CodeInternalDatabase].
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
