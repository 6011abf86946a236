package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/relay"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/stories"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	accountIDContextKey = "storyspark_account_id"
	livenessBanner      = "StorySpark Server is Running! 🚀"
)

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingStoryService = errors.New("stories service dependency required")
	errMissingRelayHub     = errors.New("relay hub dependency required")
	defaultAllowedOrigins  = []string{"*"}
)

type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager   TokenManager
	Users          *users.Service
	Stories        *stories.Service
	Relay          *relay.Hub
	Metrics        *metrics.Collector
	Logger         *zap.Logger
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Stories == nil {
		return nil, errMissingStoryService
	}
	if deps.Relay == nil {
		return nil, errMissingRelayHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultAllowedOrigins
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.AccessLog(logger))
	router.Use(corsMiddleware(origins))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		credentials: auth.NewCredentialReader(deps.TokenManager),
		users:       deps.Users,
		stories:     deps.Stories,
		relay:       deps.Relay,
		metrics:     deps.Metrics,
		upgrader:    newSocketUpgrader(origins),
		logger:      logger,
	}

	router.GET("/", handler.handleBanner)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	router.GET("/socket", handler.handleSocket)

	authRoutes := router.Group("/api/auth")
	authRoutes.POST("/register", handler.handleRegister)
	authRoutes.POST("/login", handler.handleLogin)

	publicStories := router.Group("/api/story/public")
	publicStories.GET("/:shareId", handler.handlePublicStory)
	publicStories.POST("/refine/:id", handler.handleGuestRefine)

	protected := router.Group("/api/story")
	protected.Use(handler.authorizeRequest)
	protected.POST("/generate", handler.handleGenerate)
	protected.GET("/my-stories", handler.handleListStories)
	protected.DELETE("/:id", handler.handleDeleteStory)
	protected.POST("/refine/:id", handler.handleRefineStory)
	protected.POST("/share/:id", handler.handleShareStory)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", auth.HeaderAuthToken},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens      TokenManager
	credentials *auth.CredentialReader
	users       *users.Service
	stories     *stories.Service
	relay       *relay.Hub
	metrics     *metrics.Collector
	upgrader    *websocket.Upgrader
	logger      *zap.Logger
}

type credentialsRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponsePayload struct {
	Token string `json:"token"`
}

type generateRequestPayload struct {
	Prompt string `json:"prompt"`
}

type refineRequestPayload struct {
	Instruction string `json:"instruction"`
}

type shareResponsePayload struct {
	ShareLink string    `json:"shareLink"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *httpHandler) handleBanner(c *gin.Context) {
	c.String(http.StatusOK, livenessBanner)
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}

	account, err := h.users.Register(c.Request.Context(), request.Username, request.Password)
	switch {
	case errors.Is(err, users.ErrUsernameTaken):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "User already exists", "error": "user_exists"})
		return
	case errors.Is(err, users.ErrInvalidUsername):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Username must be 3-64 characters", "error": "invalid_username"})
		return
	case errors.Is(err, users.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Password must be 6-72 characters", "error": "invalid_password"})
		return
	case err != nil:
		h.logger.Error("failed to register account", zap.Error(err))
		respondServerError(c, "")
		return
	}

	h.respondWithToken(c, account.ID)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid Credentials", "error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate account", zap.Error(err))
		respondServerError(c, "")
		return
	}

	h.respondWithToken(c, account.ID)
}

func (h *httpHandler) respondWithToken(c *gin.Context, accountID string) {
	token, _, err := h.tokens.IssueToken(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("failed to issue account token", zap.String("account_id", accountID), zap.Error(err))
		respondServerError(c, "")
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{Token: token})
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	var request generateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}

	story, err := h.stories.Generate(c.Request.Context(), ownerID, request.Prompt)
	if err != nil {
		respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *httpHandler) handleListStories(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}

	listed, err := h.stories.List(c.Request.Context(), ownerID)
	if err != nil {
		respondStoryError(c, err)
		return
	}
	if listed == nil {
		listed = []stories.Story{}
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleDeleteStory(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	storyID, err := stories.NewStoryID(c.Param("id"))
	if err != nil {
		respondStoryError(c, err)
		return
	}

	if err := h.stories.Delete(c.Request.Context(), storyID, ownerID); err != nil {
		respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Story removed"})
}

func (h *httpHandler) handleRefineStory(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	storyID, err := stories.NewStoryID(c.Param("id"))
	if err != nil {
		respondStoryError(c, err)
		return
	}
	var request refineRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}

	story, err := h.stories.Refine(c.Request.Context(), storyID, ownerID, request.Instruction)
	if err != nil {
		respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *httpHandler) handleShareStory(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	storyID, err := stories.NewStoryID(c.Param("id"))
	if err != nil {
		respondStoryError(c, err)
		return
	}

	grant, err := h.stories.Share(c.Request.Context(), storyID, ownerID)
	if err != nil {
		respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, shareResponsePayload{
		ShareLink: grant.Token.String(),
		ExpiresAt: grant.ExpiresAt,
	})
}

func (h *httpHandler) handlePublicStory(c *gin.Context) {
	token, err := stories.NewShareToken(c.Param("shareId"))
	if err != nil {
		respondStoryError(c, err)
		return
	}

	story, err := h.stories.SharedSnapshot(c.Request.Context(), token)
	if err != nil {
		respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *httpHandler) handleGuestRefine(c *gin.Context) {
	storyID, err := stories.NewStoryID(c.Param("id"))
	if err != nil {
		respondStoryError(c, err)
		return
	}
	var request refineRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidBody(c)
		return
	}

	story, err := h.stories.GuestRefine(c.Request.Context(), storyID, request.Instruction)
	if err != nil {
		respondStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.credentials.ResolveRequest(c.Request)
	if errors.Is(err, auth.ErrMissingCredential) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "No token, authorization denied", "error": "missing_token"})
		return
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Token is not valid", "error": "invalid_token"})
		return
	}
	c.Set(accountIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requireOwner(c *gin.Context) (stories.OwnerID, bool) {
	ownerID, err := stories.NewOwnerID(c.GetString(accountIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "Token is not valid", "error": "invalid_token"})
		return "", false
	}
	return ownerID, true
}

func respondInvalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid request body", "error": "invalid_request"})
}

func respondServerError(c *gin.Context, code string) {
	body := gin.H{"msg": "Server Error", "error": "server_error"}
	if code != "" {
		body["code"] = code
	}
	c.JSON(http.StatusInternalServerError, body)
}

func respondStoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, stories.ErrInvalidPrompt):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Prompt is required", "error": "invalid_prompt"})
	case errors.Is(err, stories.ErrInvalidInstruction):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Instruction is required", "error": "invalid_instruction"})
	case errors.Is(err, stories.ErrInvalidStoryID), errors.Is(err, stories.ErrInvalidShareToken):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Invalid identifier", "error": "invalid_identifier"})
	case errors.Is(err, stories.ErrNotOwner):
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "Not authorized", "error": "not_owner"})
	case errors.Is(err, stories.ErrStoryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"msg": "Story not found", "error": "story_not_found"})
	case errors.Is(err, stories.ErrShareNotFound):
		c.JSON(http.StatusNotFound, gin.H{"msg": "Link expired or invalid", "error": "share_not_found"})
	default:
		var serviceErr *stories.ServiceError
		code := ""
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		respondServerError(c, code)
	}
}
