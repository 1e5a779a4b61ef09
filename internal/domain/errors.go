package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindProductNotFound   Kind = "product_not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindSaleNotFound      Kind = "sale_not_found"
	KindAlreadyVoided     Kind = "already_voided"
	KindCustomerNotFound  Kind = "customer_not_found"
	KindTimeout           Kind = "timeout"
	KindDatabase          Kind = "database"
)

// Error is the single error type surfaced by the sales core. Business kinds
// are final; only timeout and database failures may be retried, and only by
// re-running the whole operation.
type Error struct {
	Kind         Kind
	Op           string
	Message      string
	ProductID    int64
	CurrentStock int
	Requested    int
	SaleID       string
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	switch e.Kind {
	case KindInsufficientStock:
		fmt.Fprintf(&b, " (product %d, requested %d, current stock %d)", e.ProductID, e.Requested, e.CurrentStock)
	case KindProductNotFound:
		fmt.Fprintf(&b, " (product %d)", e.ProductID)
	case KindSaleNotFound, KindAlreadyVoided:
		fmt.Fprintf(&b, " (sale %s)", e.SaleID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so callers can write
// errors.Is(err, &domain.Error{Kind: domain.KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindDatabase
}

func ErrorKind(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if err == nil {
		return ""
	}
	return KindDatabase
}

func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

func Retryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return false
}

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewProductNotFound(productID int64) *Error {
	return &Error{Kind: KindProductNotFound, ProductID: productID}
}

func NewInsufficientStock(productID int64, requested int, current int) *Error {
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Requested: requested, CurrentStock: current}
}

func NewSaleNotFound(saleID string) *Error {
	return &Error{Kind: KindSaleNotFound, SaleID: saleID}
}

func NewAlreadyVoided(saleID string) *Error {
	return &Error{Kind: KindAlreadyVoided, SaleID: saleID}
}

func NewCustomerNotFound(customerID int64) *Error {
	return &Error{Kind: KindCustomerNotFound, Message: fmt.Sprintf("customer %d", customerID)}
}

func NewTimeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "lock wait exceeded", Err: err}
}

func NewDatabaseError(err error) *Error {
	return &Error{Kind: KindDatabase, Err: err}
}

// WithOp returns err annotated with op when it is a *Error that has no op yet;
// any other error is wrapped as a database failure.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Op != "" {
			return err
		}
		cp := *de
		cp.Op = op
		return &cp
	}
	return &Error{Kind: KindDatabase, Op: op, Err: err}
}
