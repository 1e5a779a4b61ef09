package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindAndRetryable(t *testing.T) {
	cases := []struct {
		err       error
		kind      Kind
		retryable bool
	}{
		{NewValidationError("bad"), KindValidation, false},
		{NewInsufficientStock(1, 3, 2), KindInsufficientStock, false},
		{NewAlreadyVoided("sale-1"), KindAlreadyVoided, false},
		{NewTimeout(errors.New("lock")), KindTimeout, true},
		{NewDatabaseError(errors.New("conn reset")), KindDatabase, true},
		{fmt.Errorf("wrapped: %w", NewSaleNotFound("sale-2")), KindSaleNotFound, false},
		{errors.New("unknown"), KindDatabase, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, ErrorKind(tc.err), tc.err.Error())
		assert.Equal(t, tc.retryable, Retryable(tc.err), tc.err.Error())
	}
	assert.Equal(t, Kind(""), ErrorKind(nil))
}

func TestWithOpAnnotatesOnce(t *testing.T) {
	err := WithOp("create sale", NewInsufficientStock(7, 5, 1))
	assert.Contains(t, err.Error(), "create sale: insufficient_stock")
	assert.Contains(t, err.Error(), "current stock 1")

	again := WithOp("outer", err)
	assert.NotContains(t, again.Error(), "outer")

	plain := WithOp("list sales", errors.New("boom"))
	assert.True(t, IsKind(plain, KindDatabase))
	assert.Nil(t, WithOp("noop", nil))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("void: %w", NewAlreadyVoided("sale-1"))
	assert.True(t, errors.Is(err, &Error{Kind: KindAlreadyVoided}))
	assert.False(t, errors.Is(err, &Error{Kind: KindSaleNotFound}))
}
