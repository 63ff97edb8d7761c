package archive

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// APIServer serves archived runs over HTTP.
type APIServer struct {
	store *Store
}

// NewAPIServer creates a new archive API server.
func NewAPIServer(store *Store) *APIServer {
	return &APIServer{
		store: store,
	}
}

// SetupRouter configures the Gin router with all archive API routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.GET("/runs", s.HandleListRuns)
	api.GET("/runs/:id", s.HandleGetRun)
	api.GET("/runs/:id/articles", s.HandleListArticles)

	return router
}

// ListRunsResponse represents the response for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs  []Run `json:"runs"`
	Total int   `json:"total"`
}

// ListArticlesResponse represents the response for GET
// /api/v1/runs/{id}/articles.
type ListArticlesResponse struct {
	Articles []Article `json:"articles"`
	Total    int       `json:"total"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *APIServer) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// runID parses the :id path parameter, writing a 400 response when it is
// not a UUID.
func (s *APIServer) runID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid run ID"))
		return uuid.Nil, false
	}
	return id, true
}

// HandleListRuns handles GET /api/v1/runs.
func (s *APIServer) HandleListRuns(c *gin.Context) {
	limit := 0
	if limitParam := c.Query("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("validation_error", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListRunsResponse{
		Runs:  runs,
		Total: len(runs),
	})
}

// HandleGetRun handles GET /api/v1/runs/{id}.
func (s *APIServer) HandleGetRun(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// HandleListArticles handles GET /api/v1/runs/{id}/articles.
func (s *APIServer) HandleListArticles(c *gin.Context) {
	id, ok := s.runID(c)
	if !ok {
		return
	}

	articles, err := s.store.ListArticles(c.Request.Context(), id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListArticlesResponse{
		Articles: articles,
		Total:    len(articles),
	})
}
