package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{"lock timeout", &pgconn.PgError{Code: codeLockNotAvailable}, domain.KindTimeout},
		{"statement canceled", fmt.Errorf("exec: %w", &pgconn.PgError{Code: codeQueryCanceled}), domain.KindTimeout},
		{"deadlock detected", &pgconn.PgError{Code: codeDeadlock}, domain.KindTimeout},
		{"serialization failure", &pgconn.PgError{Code: codeSerialization}, domain.KindTimeout},
		{"deadline", context.DeadlineExceeded, domain.KindTimeout},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, domain.KindDatabase},
		{"plain error", errors.New("connection reset"), domain.KindDatabase},
		{"domain passthrough", domain.NewInsufficientStock(1, 3, 2), domain.KindInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.ErrorKind(mapError(tc.err)); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}

	if mapError(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
	if !errors.Is(mapError(store.ErrDuplicateIdempotencyKey), store.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate key sentinel to pass through")
	}
}
