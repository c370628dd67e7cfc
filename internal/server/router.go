package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cryptofolio/backend/internal/auth"
	"github.com/cryptofolio/backend/internal/market"
	"github.com/cryptofolio/backend/internal/portfolio"
	"github.com/cryptofolio/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const userIDContextKey = "cryptofolio_user_id"

var (
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingPortfolioService = errors.New("portfolio service dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// AccessTokenManager issues and validates API access tokens.
type AccessTokenManager interface {
	Issue(userID uint, role, tier string) (string, int64, error)
	Validate(token string) (auth.AccessClaims, error)
}

// Dependencies wires the HTTP layer to the domain services. Market and
// Events may be nil; their routes are not registered in that case.
type Dependencies struct {
	UsersService     *users.Service
	PortfolioService *portfolio.Service
	MarketService    *market.Service
	Events           *EventDispatcher
	TokenManager     AccessTokenManager
	Logger           *zap.Logger
}

// NewHTTPHandler builds the API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.PortfolioService == nil {
		return nil, errMissingPortfolioService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		usersService:     deps.UsersService,
		portfolioService: deps.PortfolioService,
		marketService:    deps.MarketService,
		events:           deps.Events,
		tokens:           deps.TokenManager,
		logger:           logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/refresh", handler.handleRefresh)
	router.GET("/subscriptions/tiers", handler.handleListTiers)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/subscriptions/me", handler.handleMySubscription)
	protected.POST("/subscriptions/upgrade", handler.handleUpgrade)
	protected.POST("/portfolios", handler.handleCreatePortfolio)
	protected.GET("/portfolios", handler.handleListPortfolios)
	protected.GET("/portfolios/:id", handler.handleGetPortfolio)
	protected.PUT("/portfolios/:id", handler.handleUpdatePortfolio)
	protected.DELETE("/portfolios/:id", handler.handleDeletePortfolio)
	protected.GET("/portfolios/:id/versions", handler.handlePortfolioVersions)
	protected.POST("/portfolios/:id/sync", handler.handleSyncPortfolio)
	protected.GET("/portfolios/:id/sync/status", handler.handleSyncStatus)

	if deps.MarketService != nil {
		protected.GET("/coins/markets", handler.handleCoinsMarkets)
		protected.GET("/coins/:id/price", handler.handleCoinPrice)
	}

	if deps.Events != nil {
		protected.GET("/events", handler.handleEventStream)
	}

	return router, nil
}

type httpHandler struct {
	usersService     *users.Service
	portfolioService *portfolio.Service
	marketService    *market.Service
	events           *EventDispatcher
	tokens           AccessTokenManager
	logger           *zap.Logger
}

func (h *httpHandler) publishEvent(event PortfolioEvent) {
	if h.events == nil {
		return
	}
	h.events.Publish(event)
}

type credentialsRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialsResponsePayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	TokenType    string      `json:"token_type"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID               uint   `json:"id"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	SubscriptionTier string `json:"subscription_tier"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.usersService.Register(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	}
	if errors.Is(err, users.ErrWeakPassword) || errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.respondWithCredentials(c, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.usersService.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithCredentials(c, account)
}

type refreshRequestPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, replacement, err := h.usersService.RotateRefreshToken(c.Request.Context(), request.RefreshToken)
	if errors.Is(err, users.ErrRefreshTokenInvalid) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}
	if err != nil {
		h.logger.Error("refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
		return
	}

	h.respondWithIssuedCredentials(c, account, replacement)
}

func (h *httpHandler) respondWithCredentials(c *gin.Context, account users.User) {
	refreshToken, err := h.usersService.IssueRefreshToken(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to issue refresh token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.respondWithIssuedCredentials(c, account, refreshToken)
}

func (h *httpHandler) respondWithIssuedCredentials(c *gin.Context, account users.User, refreshToken users.RefreshToken) {
	tier := h.usersService.EffectiveTier(account)
	accessToken, expiresIn, err := h.tokens.Issue(account.ID, string(account.Role), string(tier))
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, credentialsResponsePayload{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
		User: userPayload{
			ID:               account.ID,
			Email:            account.Email,
			Role:             string(account.Role),
			SubscriptionTier: string(tier),
		},
	})
}

func (h *httpHandler) handleListTiers(c *gin.Context) {
	tiers := gin.H{}
	for _, tier := range users.AllTiers() {
		tiers[string(tier)] = users.LimitsFor(tier)
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

func (h *httpHandler) handleMySubscription(c *gin.Context) {
	account, ok := h.currentAccount(c)
	if !ok {
		return
	}
	tier := h.usersService.EffectiveTier(account)
	response := gin.H{
		"tier":   string(tier),
		"limits": users.LimitsFor(tier),
	}
	if account.SubscriptionExpiresAt != nil {
		response["expires_at"] = account.SubscriptionExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, response)
}

type upgradeRequestPayload struct {
	Tier      string  `json:"tier"`
	ExpiresAt *string `json:"expires_at"`
}

func (h *httpHandler) handleUpgrade(c *gin.Context) {
	account, ok := h.currentAccount(c)
	if !ok {
		return
	}

	var request upgradeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var expiresAt *time.Time
	if request.ExpiresAt != nil {
		parsed, err := time.Parse(time.RFC3339, *request.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_expiry"})
			return
		}
		utc := parsed.UTC()
		expiresAt = &utc
	}

	updated, err := h.usersService.UpdateTier(c.Request.Context(), account.ID, users.Tier(request.Tier), expiresAt)
	if errors.Is(err, users.ErrUnknownTier) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_tier"})
		return
	}
	if err != nil {
		h.logger.Error("tier update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upgrade_failed"})
		return
	}

	tier := h.usersService.EffectiveTier(updated)
	c.JSON(http.StatusOK, gin.H{
		"tier":   string(tier),
		"limits": users.LimitsFor(tier),
	})
}

type portfolioRequestPayload struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Document    *portfolio.Document `json:"document"`
}

type portfolioResponsePayload struct {
	ID             uint               `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	Document       portfolio.Document `json:"document"`
	Version        int64              `json:"version"`
	TotalValueUSD  string             `json:"total_value_usd"`
	AssetCount     int                `json:"asset_count"`
	IsCloudSynced  bool               `json:"is_cloud_synced"`
	LastSyncAt     *string            `json:"last_sync_at,omitempty"`
	LastSyncDevice string             `json:"last_sync_device,omitempty"`
	UpdatedAt      string             `json:"updated_at"`
}

func (h *httpHandler) handleCreatePortfolio(c *gin.Context) {
	account, ok := h.currentAccount(c)
	if !ok {
		return
	}

	var request portfolioRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" || request.Document == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	limits := users.LimitsFor(h.usersService.EffectiveTier(account))
	if limits.MaxPortfolios != users.Unlimited {
		count, err := h.portfolioService.CountByUser(c.Request.Context(), account.ID)
		if err != nil {
			h.logger.Error("portfolio count failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
			return
		}
		if count >= int64(limits.MaxPortfolios) {
			c.JSON(http.StatusForbidden, gin.H{"error": "portfolio_limit_reached"})
			return
		}
	}

	created, err := h.portfolioService.Create(c.Request.Context(), portfolio.CreateRequest{
		UserID:      account.ID,
		Name:        request.Name,
		Description: request.Description,
		Document:    *request.Document,
	})
	if err != nil {
		h.respondPortfolioError(c, err, "create_failed")
		return
	}
	c.JSON(http.StatusCreated, h.portfolioResponse(created))
}

func (h *httpHandler) handleListPortfolios(c *gin.Context) {
	userID := currentUserID(c)
	portfolios, err := h.portfolioService.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.respondPortfolioError(c, err, "list_failed")
		return
	}
	response := make([]portfolioResponsePayload, 0, len(portfolios))
	for index := range portfolios {
		response = append(response, h.portfolioResponse(&portfolios[index]))
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": response})
}

func (h *httpHandler) handleGetPortfolio(c *gin.Context) {
	portfolioID, ok := parsePortfolioID(c)
	if !ok {
		return
	}
	stored, err := h.portfolioService.Get(c.Request.Context(), currentUserID(c), portfolioID)
	if err != nil {
		h.respondPortfolioError(c, err, "get_failed")
		return
	}
	c.JSON(http.StatusOK, h.portfolioResponse(stored))
}

func (h *httpHandler) handleUpdatePortfolio(c *gin.Context) {
	portfolioID, ok := parsePortfolioID(c)
	if !ok {
		return
	}

	var request struct {
		Name        *string             `json:"name"`
		Description *string             `json:"description"`
		Document    *portfolio.Document `json:"document"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.portfolioService.Update(c.Request.Context(), currentUserID(c), portfolioID, portfolio.UpdateRequest{
		Name:        request.Name,
		Description: request.Description,
		Document:    request.Document,
	})
	if err != nil {
		h.respondPortfolioError(c, err, "update_failed")
		return
	}
	if request.Document != nil {
		h.publishEvent(PortfolioEvent{
			UserID:      currentUserID(c),
			EventType:   EventPortfolioChanged,
			PortfolioID: updated.ID,
			Version:     updated.Version,
			Timestamp:   time.Now().UTC(),
		})
	}
	c.JSON(http.StatusOK, h.portfolioResponse(updated))
}

func (h *httpHandler) handleDeletePortfolio(c *gin.Context) {
	portfolioID, ok := parsePortfolioID(c)
	if !ok {
		return
	}
	if err := h.portfolioService.Delete(c.Request.Context(), currentUserID(c), portfolioID); err != nil {
		h.respondPortfolioError(c, err, "delete_failed")
		return
	}
	h.publishEvent(PortfolioEvent{
		UserID:      currentUserID(c),
		EventType:   EventPortfolioDeleted,
		PortfolioID: portfolioID,
		Timestamp:   time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type versionResponsePayload struct {
	Version       int64           `json:"version"`
	TotalValueUSD string          `json:"total_value_usd"`
	AssetCount    int             `json:"asset_count"`
	ChangeSummary json.RawMessage `json:"change_summary,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

func (h *httpHandler) handlePortfolioVersions(c *gin.Context) {
	portfolioID, ok := parsePortfolioID(c)
	if !ok {
		return
	}
	limit := parseQueryInt(c, "limit", 10)
	offset := parseQueryInt(c, "offset", 0)

	versions, err := h.portfolioService.History(c.Request.Context(), currentUserID(c), portfolioID, limit, offset)
	if err != nil {
		h.respondPortfolioError(c, err, "history_failed")
		return
	}

	response := make([]versionResponsePayload, 0, len(versions))
	for _, row := range versions {
		payload := versionResponsePayload{
			Version:       row.Version,
			TotalValueUSD: row.TotalValueUSD.String(),
			AssetCount:    row.AssetCount,
			CreatedAt:     row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if row.ChangeSummaryJSON != "" {
			payload.ChangeSummary = json.RawMessage(row.ChangeSummaryJSON)
		}
		response = append(response, payload)
	}
	c.JSON(http.StatusOK, gin.H{"versions": response})
}

type syncRequestPayload struct {
	Document    *portfolio.Document `json:"document"`
	BaseVersion int64               `json:"base_version"`
	DeviceID    string              `json:"device_id"`
	Force       bool                `json:"force"`
}

type changeResponsePayload struct {
	Type  string      `json:"type"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

func (h *httpHandler) handleSyncPortfolio(c *gin.Context) {
	account, ok := h.currentAccount(c)
	if !ok {
		return
	}
	if !users.LimitsFor(h.usersService.EffectiveTier(account)).CloudStorage {
		c.JSON(http.StatusForbidden, gin.H{"error": "cloud_sync_requires_premium"})
		return
	}

	portfolioID, ok := parsePortfolioID(c)
	if !ok {
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Document == nil || request.BaseVersion < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.portfolioService.Sync(c.Request.Context(), account.ID, portfolioID, portfolio.SyncRequest{
		ClientDocument: *request.Document,
		BaseVersion:    request.BaseVersion,
		DeviceID:       request.DeviceID,
		Force:          request.Force,
	})
	if err != nil {
		h.respondPortfolioError(c, err, "sync_failed")
		return
	}

	if result.Outcome == portfolio.SyncConflict {
		c.JSON(http.StatusConflict, gin.H{
			"status":             "conflict",
			"server_version":     result.ServerVersion,
			"server_document":    result.ServerDocument,
			"conflicting_assets": result.ConflictingAssets,
		})
		return
	}

	if len(result.Changes) > 0 {
		h.publishEvent(PortfolioEvent{
			UserID:      account.ID,
			EventType:   EventPortfolioChanged,
			PortfolioID: portfolioID,
			Version:     result.NewVersion,
			Timestamp:   time.Now().UTC(),
		})
	}

	changes := make([]changeResponsePayload, 0, len(result.Changes))
	for _, change := range result.Changes {
		changes = append(changes, changeResponsePayload{
			Type:  string(change.Type),
			Path:  change.DottedPath(),
			Value: change.Value,
		})
	}
	response := gin.H{
		"status":             "applied",
		"version":            result.NewVersion,
		"document":           result.Document,
		"changes":            changes,
		"had_conflicts":      result.HadConflicts,
		"conflicting_assets": result.ConflictingAssets,
	}
	if result.LastSyncAt != nil {
		response["last_sync_at"] = result.LastSyncAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	portfolioID, ok := parsePortfolioID(c)
	if !ok {
		return
	}
	clientVersion := int64(parseQueryInt(c, "client_version", 0))
	deviceID := c.Query("device_id")

	status, err := h.portfolioService.ComputeStatus(c.Request.Context(), currentUserID(c), portfolioID, clientVersion, deviceID)
	if err != nil {
		h.respondPortfolioError(c, err, "status_failed")
		return
	}

	response := gin.H{
		"needs_sync":     status.NeedsSync,
		"has_conflicts":  status.HasConflicts,
		"server_version": status.ServerVersion,
	}
	if status.ServerLastSync != nil {
		response["server_last_sync"] = status.ServerLastSync.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCoinsMarkets(c *gin.Context) {
	vsCurrency := c.DefaultQuery("vs_currency", "usd")
	var coinIDs []string
	if ids := strings.TrimSpace(c.Query("ids")); ids != "" {
		coinIDs = strings.Split(ids, ",")
	}
	perPage := parseQueryInt(c, "per_page", 50)
	page := parseQueryInt(c, "page", 1)

	markets, err := h.marketService.CoinsMarkets(c.Request.Context(), vsCurrency, coinIDs, perPage, page)
	if err != nil {
		h.respondMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

func (h *httpHandler) handleCoinPrice(c *gin.Context) {
	coinID := c.Param("id")
	vsCurrency := c.DefaultQuery("vs_currency", "usd")

	price, err := h.marketService.CoinPrice(c.Request.Context(), coinID, vsCurrency)
	if err != nil {
		h.respondMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"coin_id":     coinID,
		"vs_currency": vsCurrency,
		"price":       decimal.NewFromFloat(price).String(),
	})
}

// handleEventStream serves server-sent events so a client's other
// devices learn about accepted mutations without polling.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := currentUserID(c)
	stream, cleanup := h.events.Subscribe(c.Request.Context(), userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, gin.H{
				"portfolio_id": event.PortfolioID,
				"version":      event.Version,
				"timestamp":    event.Timestamp.UTC().Format(time.RFC3339),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) respondMarketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrCoinNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "coin_not_found"})
	case errors.Is(err, market.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "market_data_unavailable"})
	default:
		h.logger.Error("market request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "market_request_failed"})
	}
}

func (h *httpHandler) respondPortfolioError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, portfolio.ErrPortfolioNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "portfolio_not_found"})
	case errors.Is(err, portfolio.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document", "detail": err.Error()})
	case errors.Is(err, portfolio.ErrStaleBase):
		// The client's base version is gone; it must pull the server
		// state and rebase before retrying.
		c.JSON(http.StatusBadRequest, gin.H{"error": "stale_base_version"})
	case errors.Is(err, portfolio.ErrConcurrentWrite):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_write"})
	default:
		h.logger.Error("portfolio request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func (h *httpHandler) portfolioResponse(stored *portfolio.Portfolio) portfolioResponsePayload {
	document, err := portfolio.DecodeDocument(stored.DataJSON)
	if err != nil {
		h.logger.Error("stored document decode failed", zap.Uint("portfolio_id", stored.ID), zap.Error(err))
		document = portfolio.Document{Assets: map[string]portfolio.AssetEntry{}}
	}
	payload := portfolioResponsePayload{
		ID:             stored.ID,
		Name:           stored.Name,
		Description:    stored.Description,
		Document:       document,
		Version:        stored.Version,
		TotalValueUSD:  stored.TotalValueUSD.String(),
		AssetCount:     stored.AssetCount,
		IsCloudSynced:  stored.IsCloudSynced,
		LastSyncDevice: stored.LastSyncDevice,
		UpdatedAt:      stored.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if stored.LastSyncAt != nil {
		formatted := stored.LastSyncAt.UTC().Format(time.RFC3339)
		payload.LastSyncAt = &formatted
	}
	return payload
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
	claims, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// currentAccount loads the authenticated account. Tier checks read the
// stored row rather than the token claim so an upgrade or lapse takes
// effect without waiting for token expiry.
func (h *httpHandler) currentAccount(c *gin.Context) (users.User, bool) {
	account, err := h.usersService.GetByID(c.Request.Context(), currentUserID(c))
	if errors.Is(err, users.ErrUserNotFound) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return users.User{}, false
	}
	if err != nil {
		h.logger.Error("account lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account_lookup_failed"})
		return users.User{}, false
	}
	return account, true
}

func currentUserID(c *gin.Context) uint {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		return 0
	}
	userID, ok := value.(uint)
	if !ok {
		return 0
	}
	return userID
}

func parsePortfolioID(c *gin.Context) (uint, bool) {
	parsed, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || parsed == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_portfolio_id"})
		return 0, false
	}
	return uint(parsed), true
}

func parseQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
