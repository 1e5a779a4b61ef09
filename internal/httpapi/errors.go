package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"possale/backend/internal/domain"
)

type errorResponse struct {
	Error        string      `json:"error"`
	Kind         domain.Kind `json:"kind,omitempty"`
	ProductID    int64       `json:"product_id,omitempty"`
	Requested    int         `json:"requested,omitempty"`
	CurrentStock *int        `json:"current_stock,omitempty"`
	SaleID       string      `json:"sale_id,omitempty"`
	Retryable    bool        `json:"retryable"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindProductNotFound, domain.KindSaleNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientStock, domain.KindAlreadyVoided:
		return http.StatusConflict
	case domain.KindCustomerNotFound:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error. 5xx responses carry a generic message
// so driver and SQL details stay in the log.
func (a *API) writeError(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		a.logger.Error("unclassified error", zap.String("path", c.FullPath()), zap.Error(err))
		abortWithMessage(c, http.StatusInternalServerError, "internal server error")
		return
	}

	status := statusFor(de.Kind)
	body := errorResponse{
		Error:     err.Error(),
		Kind:      de.Kind,
		Retryable: de.Retryable(),
	}
	switch de.Kind {
	case domain.KindInsufficientStock:
		current := de.CurrentStock
		body.ProductID = de.ProductID
		body.Requested = de.Requested
		body.CurrentStock = &current
	case domain.KindProductNotFound:
		body.ProductID = de.ProductID
	case domain.KindSaleNotFound, domain.KindAlreadyVoided:
		body.SaleID = de.SaleID
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("kind", string(de.Kind)), zap.Error(err))
		body.Error = "internal server error"
		if de.Kind == domain.KindTimeout {
			body.Error = "service busy, retry the request"
			c.Header("Retry-After", "1")
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func abortWithMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg})
}
