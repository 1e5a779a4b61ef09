package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

func (a *API) handleCreateSale(c *gin.Context) {
	var cart domain.Cart
	if err := decodeJSON(c, &cart); err != nil {
		abortWithMessage(c, http.StatusBadRequest, err.Error())
		return
	}
	// The actor is always the authenticated caller.
	cart.ActorID = principalFrom(c).Subject
	if cart.IdempotencyKey == "" {
		cart.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	sale, err := a.sales.CreateSale(c.Request.Context(), cart)
	if err != nil {
		a.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if sale.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"sale": sale})
}

func (a *API) handleVoidSale(c *gin.Context) {
	principal := principalFrom(c)
	if !a.voidLimiter.Allow(principal.Subject) {
		abortWithMessage(c, http.StatusTooManyRequests, "too many void attempts")
		return
	}

	var req domain.VoidRequest
	if err := decodeJSON(c, &req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, err.Error())
		return
	}

	sale, err := a.sales.VoidSale(c.Request.Context(), c.Param("id"), req.Reason, principal.Subject)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sale": sale})
}

func (a *API) handleGetSale(c *gin.Context) {
	sale, err := a.sales.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sale": sale})
}

func (a *API) handleListSales(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	sales, err := a.sales.ListSales(c.Request.Context(), store.SaleFilter{
		From:          from,
		To:            to,
		IncludeVoided: parseBool(c.Query("include_voided")),
		Status:        strings.TrimSpace(c.Query("status")),
		Limit:         parsePositiveLimit(c.Query("limit"), 100, 500),
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (a *API) handleAvailability(c *gin.Context) {
	productID, err := strconv.ParseInt(strings.TrimSpace(c.Query("product_id")), 10, 64)
	if err != nil || productID <= 0 {
		abortWithMessage(c, http.StatusBadRequest, "product_id must be a positive integer")
		return
	}
	qty := 1
	if raw := strings.TrimSpace(c.Query("qty")); raw != "" {
		qty, err = strconv.Atoi(raw)
		if err != nil {
			abortWithMessage(c, http.StatusBadRequest, "qty must be an integer")
			return
		}
	}

	avail, err := a.sales.CheckAvailability(c.Request.Context(), productID, qty)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"availability": avail})
}

func (a *API) handleLowStock(c *gin.Context) {
	products, err := a.sales.LowStock(c.Request.Context(), parsePositiveLimit(c.Query("limit"), 20, 200))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}
