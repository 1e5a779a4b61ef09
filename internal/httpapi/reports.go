package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"possale/backend/internal/analytics"
	"possale/backend/internal/domain"
)

func rangeFromQuery(c *gin.Context) (analytics.Range, bool) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "from: "+err.Error())
		return analytics.Range{}, false
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "to: "+err.Error())
		return analytics.Range{}, false
	}
	return analytics.Range{From: from, To: to, IncludeVoided: parseBool(c.Query("include_voided"))}, true
}

func (a *API) handleSummary(c *gin.Context) {
	r, ok := rangeFromQuery(c)
	if !ok {
		return
	}
	summary, err := a.reports.Summary(c.Request.Context(), domain.Granularity(c.Query("granularity")), r)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *API) handleTopProducts(c *gin.Context) {
	r, ok := rangeFromQuery(c)
	if !ok {
		return
	}
	top, err := a.reports.TopProducts(c.Request.Context(), r, parsePositiveLimit(c.Query("limit"), 10, 100))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": top})
}

func (a *API) handlePayments(c *gin.Context) {
	r, ok := rangeFromQuery(c)
	if !ok {
		return
	}
	payments, err := a.reports.Payments(c.Request.Context(), r)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (a *API) handleHourly(c *gin.Context) {
	r, ok := rangeFromQuery(c)
	if !ok {
		return
	}
	hours, err := a.reports.Hourly(c.Request.Context(), r)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours})
}

func (a *API) handleDashboard(c *gin.Context) {
	periods := 0
	if raw := strings.TrimSpace(c.Query("periods")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abortWithMessage(c, http.StatusBadRequest, "periods must be a non-negative integer")
			return
		}
		periods = n
	}

	dash, err := a.reports.Dashboard(c.Request.Context(), domain.Granularity(c.Query("granularity")), periods)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}
