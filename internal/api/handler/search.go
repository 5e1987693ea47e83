package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/warit/csvmatch/internal/api/middleware"
	"github.com/warit/csvmatch/internal/service"
)

// SearchHandler handles fuzzy search endpoints.
type SearchHandler struct {
	search  *service.SearchService
	tracker *service.SearchTracker
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - search: search service instance.
//   - tracker: search history tracker.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(search *service.SearchService, tracker *service.SearchTracker) *SearchHandler {
	return &SearchHandler{
		search:  search,
		tracker: tracker,
	}
}

// Single handles POST /api/v1/search/single.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Single(c *gin.Context) {
	var req service.SingleSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.search.SingleSearch(c.Request.Context(), middleware.GetOwner(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Bulk handles POST /api/v1/search/bulk.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Bulk(c *gin.Context) {
	var req service.BulkSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.search.BulkSearch(c.Request.Context(), middleware.GetOwner(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// History handles GET /api/v1/search/history for the calling owner.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, total, err := h.tracker.History(c.Request.Context(), middleware.GetOwner(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
	})
}
