package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"oracleflow/auth"
	"oracleflow/bytes32"
	"oracleflow/errs"
)

const (
	ctxKeyAccount = "account"
	ctxKeyRole    = "role"
)

// Server exposes the engines over HTTP.
type Server struct {
	app *App
	log *zap.Logger
}

func NewServer(app *App, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{app: app, log: log}
}

// Router builds the gin engine with every route mounted under /api/v1.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", s.handleRegister)
	v1.POST("/auth/login", s.handleLogin)

	v1.GET("/assertions/:id", s.handleGetAssertion)
	v1.GET("/assertions/:id/result", s.handleAssertionResult)
	v1.GET("/assertions/:id/events", s.handleAssertionEvents)
	v1.GET("/assertions/:id/payouts", s.handleAssertionPayouts)
	v1.GET("/currencies/:currency/minimum-bond", s.handleMinimumBond)
	v1.GET("/currencies/:currency/whitelisted", s.handleCurrencyWhitelisted)
	v1.GET("/identifiers/:id/whitelisted", s.handleIdentifierWhitelisted)
	v1.GET("/requests/:id", s.handleGetRequest)
	v1.GET("/requests/:id/price", s.handleRequestPrice)
	v1.GET("/requests/:id/votes", s.handleRequestVotes)

	secured := v1.Group("", s.authMiddleware())
	secured.POST("/ledger/deposits", s.requireRole(auth.RoleLedger), s.handleDeposit)

	secured.POST("/assertions/:id/settle", s.handleSettle)
	secured.POST("/assertions/:id/retry-payout", s.handleRetryPayout)

	secured.POST("/requests", s.handleOpenRequest)
	secured.POST("/requests/:id/advance", s.handleAdvance)
	secured.POST("/requests/:id/reveal", s.handleReveal)
	secured.POST("/requests/:id/resolve", s.handleResolve)
	secured.POST("/requests/:id/retry-release", s.handleRetryRelease)

	admin := secured.Group("", s.requireRole(auth.RoleOwner))
	admin.POST("/requests/:id/emergency", s.handleEmergency)
	admin.POST("/admin/assertions/:id/resolve", s.handleOwnerResolve)
	admin.GET("/admin/oracle-params", s.handleGetOracleParams)
	admin.PUT("/admin/oracle-params", s.handlePutOracleParams)
	admin.GET("/admin/voting-params", s.handleGetVotingParams)
	admin.PUT("/admin/voting-params", s.handlePutVotingParams)
	admin.PUT("/admin/currencies/:currency", s.handlePutCurrency)
	admin.PUT("/admin/identifiers/:id", s.handlePutIdentifier)
	admin.PUT("/admin/requesters/:account", s.handlePutRequester)
	admin.PUT("/admin/directory/:name", s.handlePutDirectory)

	secured.PUT("/policies/:manager", s.handlePolicySettings)
	secured.PUT("/policies/:manager/arbitration", s.handleArbitration)
	secured.PUT("/policies/:manager/lists/:list/:account", s.handlePolicyList)

	if s.app.Memory != nil {
		dev := r.Group("/dev", s.authMiddleware())
		dev.POST("/mint", s.requireRole(auth.RoleOwner), s.handleDevMint)
		dev.POST("/transfer-call", s.handleDevTransferCall)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		account, role, err := s.app.Auth.VerifyToken(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxKeyAccount, account)
		c.Set(ctxKeyRole, role)
		c.Next()
	}
}

func (s *Server) requireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ctxKeyRole)
		for _, want := range roles {
			if role == want {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func account(c *gin.Context) string {
	return c.GetString(ctxKeyAccount)
}

// writeError maps an error kind to a status. Retryable kinds say so.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error(), "kind": kind.String()}
	if errs.Retryable(err) {
		body["retryable"] = true
	}
	switch kind {
	case errs.Admission:
		status = http.StatusUnprocessableEntity
	case errs.Temporal:
		status = http.StatusConflict
	case errs.Conflict:
		status = http.StatusConflict
	case errs.Integrity:
		status = http.StatusUnprocessableEntity
	case errs.Transfer:
		status = http.StatusBadGateway
		body["pending"] = true
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.Forbidden:
		status = http.StatusForbidden
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body = gin.H{"error": "internal error", "kind": kind.String()}
	}
	c.JSON(status, body)
}

var errBadRequest = errs.New(errs.Admission, "api: malformed request")

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": errs.Admission.String()})
}

// pathID parses a 32-byte hex path parameter.
func pathID(c *gin.Context, name string) (bytes32.ID, bool) {
	id, err := bytes32.Parse(c.Param(name))
	if err != nil {
		badRequest(c, name+" must be 64 hex characters")
		return bytes32.Zero, false
	}
	return id, true
}

// parseTag accepts 64 hex characters or a short ASCII tag such as ASSERT_TRUTH.
func parseTag(s string) (bytes32.ID, error) {
	if id, err := bytes32.Parse(s); err == nil {
		return id, nil
	}
	id, err := bytes32.FromString(s)
	if err != nil || s == "" {
		return bytes32.Zero, errors.Join(errBadRequest, err)
	}
	return id, nil
}
