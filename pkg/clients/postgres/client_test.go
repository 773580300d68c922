package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func expectMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func errorCode(t *testing.T, err error) sserr.Code {
	t.Helper()
	var ssErr *sserr.Error
	if !errors.As(err, &ssErr) {
		t.Fatalf("error type = %T, want *sserr.Error", err)
	}
	return ssErr.Code
}

var sessionPattern = regexp.QuoteMeta(sessionSQL)

// ===========================================================================
// NewFromPool
// ===========================================================================

func TestNewFromPool(t *testing.T) {
	mock := newMockPool(t)

	client := NewFromPool(mock, &Config{Database: "app"})
	if client.databaseName != "app" {
		t.Errorf("databaseName = %q, want %q", client.databaseName, "app")
	}

	bare := NewFromPool(mock, nil)
	if bare.config == nil {
		t.Fatal("config is nil, want zero-value Config")
	}
	if bare.databaseName != "" {
		t.Errorf("databaseName = %q, want empty", bare.databaseName)
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	if err == nil {
		t.Fatal("NewClient() expected error, got nil")
	}
	if code := errorCode(t, err); code != sserr.CodeValidation {
		t.Errorf("error code = %q, want %q", code, sserr.CodeValidation)
	}
}

// ===========================================================================
// WithSession
// ===========================================================================

func TestClient_WithSession_Commits(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(sessionPattern).
		WithArgs("authenticated", `{"role":"authenticated","sub":"u-1"}`, "u-1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT current_setting").
		WillReturnRows(pgxmock.NewRows([]string{"sub"}).AddRow("u-1"))
	mock.ExpectCommit()

	client := NewFromPool(mock, &Config{Database: "app"})
	session := Session{
		Role:    "authenticated",
		Subject: "u-1",
		Claims:  map[string]any{"sub": "u-1", "role": "authenticated"},
	}

	var sub string
	err := client.WithSession(context.Background(), session, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT current_setting('request.jwt.claim.sub', true)").Scan(&sub)
	})
	if err != nil {
		t.Fatalf("WithSession() error: %v", err)
	}
	if sub != "u-1" {
		t.Errorf("sub = %q, want %q", sub, "u-1")
	}
	expectMet(t, mock)
}

func TestClient_WithSession_NilClaimsPublishEmptyObject(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(sessionPattern).
		WithArgs("anon", "{}", "").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	client := NewFromPool(mock, nil)
	err := client.WithSession(context.Background(), Session{Role: "anon"}, func(context.Context, pgx.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithSession() error: %v", err)
	}
	expectMet(t, mock)
}

func TestClient_WithSession_RollsBackOnCallbackError(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(sessionPattern).
		WithArgs("authenticated", "{}", "").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	client := NewFromPool(mock, nil)
	boom := errors.New("boom")
	err := client.WithSession(context.Background(), Session{Role: "authenticated"}, func(context.Context, pgx.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithSession() error = %v, want callback error unchanged", err)
	}
	expectMet(t, mock)
}

func TestClient_WithSession_SetConfigFailure(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(sessionPattern).
		WithArgs("authenticated", "{}", "").
		WillReturnError(&pgconn.PgError{Code: "22023", Message: `role "authenticated" does not exist`})
	mock.ExpectRollback()

	called := false
	client := NewFromPool(mock, nil)
	err := client.WithSession(context.Background(), Session{Role: "authenticated"}, func(context.Context, pgx.Tx) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("WithSession() expected error, got nil")
	}
	if called {
		t.Error("callback ran without a session")
	}
	if code := errorCode(t, err); code != sserr.CodeInternalDatabase {
		t.Errorf("error code = %q, want %q", code, sserr.CodeInternalDatabase)
	}
	expectMet(t, mock)
}

func TestClient_WithSession_BeginAndCommitFailures(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBegin().WillReturnError(context.DeadlineExceeded)

		err := NewFromPool(mock, nil).WithSession(context.Background(), Session{Role: "anon"},
			func(context.Context, pgx.Tx) error { return nil })
		if !sserr.IsTimeout(err) {
			t.Errorf("IsTimeout() = false for %v", err)
		}
		expectMet(t, mock)
	})

	t.Run("commit", func(t *testing.T) {
		mock := newMockPool(t)
		reset := errors.New("connection reset")
		mock.ExpectBegin()
		mock.ExpectExec(sessionPattern).
			WithArgs("anon", `{"sub":"u-1"}`, "u-1").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectCommit().WillReturnError(reset)
		mock.ExpectRollback()

		session := Session{Role: "anon", Subject: "u-1", Claims: map[string]any{"sub": "u-1"}}
		err := NewFromPool(mock, nil).WithSession(context.Background(), session,
			func(context.Context, pgx.Tx) error { return nil })
		if code := errorCode(t, err); code != sserr.CodeInternalDatabase {
			t.Errorf("error code = %q, want %q", code, sserr.CodeInternalDatabase)
		}
		if !errors.Is(err, reset) {
			t.Errorf("WithSession() error = %v, want commit failure wrapped", err)
		}
		expectMet(t, mock)
	})
}

func TestClient_WithSession_RejectsRoleOutsideAllowList(t *testing.T) {
	mock := newMockPool(t)
	client := NewFromPool(mock, &Config{AllowedRoles: []string{"authenticated"}})

	for _, role := range []string{"", "postgres", "service_role", "anon"} {
		err := client.WithSession(context.Background(), Session{Role: role}, func(context.Context, pgx.Tx) error {
			t.Errorf("callback ran for role %q", role)
			return nil
		})
		if !sserr.IsAuthorization(err) {
			t.Errorf("role %q: error = %v, want authorization error", role, err)
		}
	}
	// No transaction may be opened for a rejected role.
	expectMet(t, mock)
}

func TestClient_WithSession_UnencodableClaims(t *testing.T) {
	mock := newMockPool(t)
	session := Session{Role: "anon", Claims: map[string]any{"bad": make(chan int)}}

	err := NewFromPool(mock, nil).WithSession(context.Background(), session,
		func(context.Context, pgx.Tx) error { return nil })
	if code := errorCode(t, err); code != sserr.CodeInternal {
		t.Errorf("error code = %q, want %q", code, sserr.CodeInternal)
	}
	expectMet(t, mock)
}

// ===========================================================================
// Query, QueryRow, Exec
// ===========================================================================

func TestClient_Query(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("SELECT rolname FROM pg_roles").
		WillReturnRows(pgxmock.NewRows([]string{"rolname"}).AddRow("anon").AddRow("authenticated"))

	rows, err := NewFromPool(mock, nil).Query(context.Background(), "SELECT rolname FROM pg_roles")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		names = append(names, name)
	}
	if len(names) != 2 {
		t.Errorf("row count = %d, want 2", len(names))
	}
	expectMet(t, mock)
}

func TestClient_Query_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sserr.Code
	}{
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeoutDatabase},
		{"canceled", context.Canceled, sserr.CodeTimeoutDatabase},
		{"pg error", &pgconn.PgError{Code: "42P01"}, sserr.CodeInternalDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			mock.ExpectQuery("SELECT").WillReturnError(tt.err)

			_, err := NewFromPool(mock, nil).Query(context.Background(), "SELECT 1")
			if code := errorCode(t, err); code != tt.want {
				t.Errorf("error code = %q, want %q", code, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("original error not preserved in the chain")
			}
		})
	}
}

func TestClient_QueryRow_NoRows(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery("SELECT 1").WillReturnError(pgx.ErrNoRows)

	var n int
	err := NewFromPool(mock, nil).QueryRow(context.Background(), "SELECT 1").Scan(&n)
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("Scan() error = %v, want pgx.ErrNoRows", err)
	}
}

func TestClient_Exec(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("GRANT").WillReturnResult(pgxmock.NewResult("GRANT", 0))
	mock.ExpectExec("DROP").WillReturnError(errors.New("permission denied"))

	client := NewFromPool(mock, nil)
	tag, err := client.Exec(context.Background(), "GRANT anon TO authenticator")
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if tag.String() != "GRANT 0" {
		t.Errorf("tag = %q, want %q", tag.String(), "GRANT 0")
	}

	_, err = client.Exec(context.Background(), "DROP ROLE anon")
	if code := errorCode(t, err); code != sserr.CodeInternalDatabase {
		t.Errorf("error code = %q, want %q", code, sserr.CodeInternalDatabase)
	}
}

// ===========================================================================
// Health and Close
// ===========================================================================

func TestClient_Health(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	client := NewFromPool(mock, nil)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	err := client.Health(context.Background())
	if code := errorCode(t, err); code != sserr.CodeUnavailableDependency {
		t.Errorf("error code = %q, want %q", code, sserr.CodeUnavailableDependency)
	}
	expectMet(t, mock)
}

func TestClient_Close(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	mock.ExpectClose()

	if err := NewFromPool(mock, nil).Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	expectMet(t, mock)
}

func TestWrapError_Nil(t *testing.T) {
	if got := wrapError(nil, "x"); got != nil {
		t.Errorf("wrapError(nil) = %v, want nil", got)
	}
}
