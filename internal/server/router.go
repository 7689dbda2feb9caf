package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/userdir/internal/users"
	"github.com/MarcoPoloResearchLab/userdir/internal/usersync"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	subjectContextKey = "userdir_subject"
	syncRunIDHeader   = "X-Sync-Run-ID"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingSyncService    = errors.New("sync service dependency required")
	errMissingUserLister     = errors.New("user lister dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type SyncRunner interface {
	Run(ctx context.Context, opts usersync.RunOptions) (usersync.Outcome, error)
}

type UserLister interface {
	List(ctx context.Context, query users.ListQuery) (users.ListResult, error)
}

type Dependencies struct {
	TokenValidator TokenValidator
	SyncService    SyncRunner
	UserLister     UserLister
	// MetricsGatherer serves /metrics when set.
	MetricsGatherer prometheus.Gatherer
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}
	if deps.UserLister == nil {
		return nil, errMissingUserLister
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens: deps.TokenValidator,
		sync:   deps.SyncService,
		users:  deps.UserLister,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsGatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.MetricsGatherer, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/users/fetch-external", handler.handleFetchExternal)
	protected.GET("/users", handler.handleListUsers)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{syncRunIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens TokenValidator
	sync   SyncRunner
	users  UserLister
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type syncResponsePayload struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    usersync.Outcome `json:"data"`
}

func (h *httpHandler) handleFetchExternal(c *gin.Context) {
	startPage, err := parsePositiveQuery(c, "page", 1)
	if err != nil {
		h.logger.Debug("ignoring malformed sync start page", zap.Error(err))
		startPage = 1
	}

	outcome, err := h.sync.Run(c.Request.Context(), usersync.RunOptions{StartPage: startPage})
	if err != nil {
		h.logger.Error("external user sync failed",
			zap.String("subject", c.GetString(subjectContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "sync_failed"})
		return
	}

	if outcome.RunID != "" {
		c.Header(syncRunIDHeader, outcome.RunID)
	}
	c.JSON(http.StatusOK, syncResponsePayload{
		Success: true,
		Message: syncMessage(outcome),
		Data:    outcome,
	})
}

func syncMessage(outcome usersync.Outcome) string {
	if outcome.UsedFallback {
		return fmt.Sprintf("Successfully imported %d users from fallback data (external API unavailable)", outcome.Imported)
	}
	return fmt.Sprintf("Successfully imported %d users from external API", outcome.Imported)
}

type listResponsePayload struct {
	Success bool            `json:"success"`
	Data    listDataPayload `json:"data"`
}

type listDataPayload struct {
	Users      []users.User      `json:"users"`
	Pagination paginationPayload `json:"pagination"`
}

type paginationPayload struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	page, err := parsePositiveQuery(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_page"})
		return
	}
	limit, err := parsePositiveQuery(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_limit"})
		return
	}

	result, err := h.users.List(c.Request.Context(), users.ListQuery{
		Page:   page,
		Limit:  limit,
		Search: c.Query("search"),
	})
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list_failed"})
		return
	}

	listed := result.Users
	if listed == nil {
		listed = []users.User{}
	}
	c.JSON(http.StatusOK, listResponsePayload{
		Success: true,
		Data: listDataPayload{
			Users: listed,
			Pagination: paginationPayload{
				Page:       result.Page,
				Limit:      result.Limit,
				Total:      result.Total,
				TotalPages: result.TotalPages(),
			},
		},
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

// parsePositiveQuery reads an optional positive integer query parameter.
func parsePositiveQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}
