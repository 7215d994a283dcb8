package httpgin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kirinyoku/tixledger/internal/auth"
	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/repository"
	redisrepo "github.com/kirinyoku/tixledger/internal/repository/redis"
	"github.com/kirinyoku/tixledger/internal/service"
	"github.com/kirinyoku/tixledger/internal/service/ledger"
	"github.com/kirinyoku/tixledger/internal/service/payment"
	"github.com/kirinyoku/tixledger/internal/service/registry"
)

// Idempotency stores purchase responses by Idempotency-Key.
type Idempotency interface {
	GetResult(ctx context.Context, key string) (string, bool, error)
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	Release(ctx context.Context, key string) error
}

// TicketFeed streams committed ticket changes.
type TicketFeed interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, ch redisrepo.TicketChange)) error
}

const idemLockTTL = 60 * time.Second

// NewRouter wires the HTTP API. A nil verifier disables bearer token
// authentication, and nil idem or feed disable idempotent purchases and the
// change stream.
func NewRouter(
	svcs *service.Services,
	verifier *auth.TokenVerifier,
	idem Idempotency,
	feed TicketFeed,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	if verifier != nil {
		r.Use(AuthMiddleware(verifier))
	}
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/registry", handleInitialize(svcs))
	r.GET("/registry", handleGetRegistry(svcs))

	r.POST("/tickets", handleMint(svcs))
	r.GET("/tickets/resale", handleListResaleTickets(svcs))
	r.GET("/tickets/changes", handleTicketChanges(feed))
	r.GET("/tickets/:id", handleGetTicket(svcs))
	r.GET("/tickets/:id/owner", handleGetOwner(svcs))
	r.POST("/tickets/:id/listing", handleListForResale(svcs))
	r.POST("/tickets/:id/purchase", handlePurchase(svcs, idem))

	r.GET("/events/:id/tickets", handleListEventTickets(svcs))

	r.GET("/accounts/:id/balance", handleGetBalance(svcs))

	admin := r.Group("/admin")
	{
		admin.POST("/deposits", handleDeposit(svcs))
	}

	return r
}

// @Summary  Initialize the marketplace registry
// @Param    req body  InitializeRequest true "payload"
// @Success  201 {object} domain.Registry
// @Failure  403 {object} ErrorResponse "caller is not the organizer"
// @Failure  409 {object} ErrorResponse "already initialized"
// @Router   /registry [post]
func handleInitialize(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InitializeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		organizer := domain.Identity(req.Organizer)
		asset := domain.Identity(req.Asset)

		if err := svcs.Registry.Initialize(c.Request.Context(), organizer, asset); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, domain.Registry{Organizer: organizer, Asset: asset})
	}
}

// @Summary  Get the registry
// @Success  200 {object} domain.Registry
// @Failure  409 {object} ErrorResponse "not initialized"
// @Router   /registry [get]
func handleGetRegistry(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg, err := svcs.Registry.Get(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, reg)
	}
}

// @Summary  Mint a ticket (organizer)
// @Param    req body  MintRequest true "payload"
// @Success  201 {object} MintResponse
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse
// @Router   /tickets [post]
func handleMint(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MintRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		id, err := svcs.Ledger.Mint(c.Request.Context(), *req.EventID, *req.Price)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, MintResponse{ID: id})
	}
}

// @Summary  Get ticket
// @Param    id  path  int  true  "Ticket ID"
// @Success  200  {object}  domain.Ticket
// @Failure  404  {object}  ErrorResponse
// @Router   /tickets/{id} [get]
func handleGetTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUint32Param(c, "id")
		if !ok {
			return
		}
		t, err := svcs.Ledger.GetTicket(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, t, "no-cache", true)
	}
}

// @Summary  Get ticket owner
// @Param    id  path  int  true  "Ticket ID"
// @Success  200  {object}  OwnerResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /tickets/{id}/owner [get]
func handleGetOwner(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUint32Param(c, "id")
		if !ok {
			return
		}
		owner, err := svcs.Ledger.GetOwner(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, OwnerResponse{TicketID: id, Owner: owner})
	}
}

// @Summary  List a ticket for resale (owner)
// @Param    id  path  int  true  "Ticket ID"
// @Param    req body  ListForResaleRequest true "payload"
// @Success  200 {object} domain.Ticket
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already listed"
// @Router   /tickets/{id}/listing [post]
func handleListForResale(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUint32Param(c, "id")
		if !ok {
			return
		}
		var req ListForResaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		t, err := svcs.Ledger.ListForResale(c.Request.Context(), id, *req.Price)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, t)
	}
}

// @Summary  Purchase a listed ticket (idempotent)
// @Param    id  path  int  true  "Ticket ID"
// @Param    req body  PurchaseRequest false "payload"
// @Header   200 {string} Idempotency-Key "echo"
// @Success  200 {object} domain.Receipt
// @Failure  402 {object} ErrorResponse "payment failed"
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "not for sale / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  503 {object} ErrorResponse "storage contention"
// @Router   /tickets/{id}/purchase [post]
func handlePurchase(svcs *service.Services, idem Idempotency) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUint32Param(c, "id")
		if !ok {
			return
		}

		var req PurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err.Error())
			return
		}

		principal, proven := auth.PrincipalFrom(c.Request.Context())

		buyer := domain.Identity(req.Buyer)
		if buyer == "" {
			buyer = principal
		}

		// Results are only remembered for authenticated callers, under their own
		// principal. Anonymous requests always reach the ledger.
		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" && proven {
			idemStorageKey = redisrepo.KeyIdemPurchase(id, principal.String(), idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				replay(c, idemKey, payload)
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					replay(c, idemKey, payload)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		receipt, err := svcs.Ledger.Purchase(c.Request.Context(), id, buyer)
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		if idemStorageKey != "" {
			b, _ := json.Marshal(receipt)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusOK, receipt)
	}
}

// @Summary  List resale tickets
// @Success  200  {array}  domain.Ticket
// @Router   /tickets/resale [get]
func handleListResaleTickets(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tickets, err := svcs.Ledger.ListResaleTickets(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, tickets, "public, max-age=5", true)
	}
}

// @Summary  List tickets of an event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {array}  domain.Ticket
// @Router   /events/{id}/tickets [get]
func handleListEventTickets(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseUint32Param(c, "id")
		if !ok {
			return
		}
		tickets, err := svcs.Ledger.ListEventTickets(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, tickets, "public, max-age=5", true)
	}
}

// @Summary  Stream ticket changes (server-sent events)
// @Produce  text/event-stream
// @Success  200
// @Failure  503 {object} ErrorResponse "change feed disabled"
// @Router   /tickets/changes [get]
func handleTicketChanges(feed TicketFeed) gin.HandlerFunc {
	return func(c *gin.Context) {
		if feed == nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "change feed disabled"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		err := feed.Subscribe(c.Request.Context(), func(_ context.Context, ch redisrepo.TicketChange) {
			c.SSEvent("ticket_changed", ch)
			c.Writer.Flush()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			_ = c.Error(err)
		}
	}
}

// @Summary  Deposit asset into an account (asset issuer)
// @Param    req body  DepositRequest true "payload"
// @Success  201 {object} BalanceResponse
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse
// @Router   /admin/deposits [post]
func handleDeposit(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DepositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		asset, err := resolveAsset(c, svcs, req.Asset)
		if err != nil {
			respondErr(c, err)
			return
		}
		account := domain.Identity(req.Account)

		if err := svcs.Payment.Deposit(c.Request.Context(), asset, account, req.Amount); err != nil {
			respondErr(c, err)
			return
		}

		amount, err := svcs.Payment.Balance(c.Request.Context(), asset, account)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, BalanceResponse{Asset: asset, Account: account, Amount: amount})
	}
}

// @Summary  Get account balance
// @Param    id     path   string  true   "Account identity"
// @Param    asset  query  string  false  "Asset, defaults to the registry asset"
// @Success  200 {object} BalanceResponse
// @Router   /accounts/{id}/balance [get]
func handleGetBalance(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := domain.Identity(c.Param("id"))

		asset, err := resolveAsset(c, svcs, c.Query("asset"))
		if err != nil {
			respondErr(c, err)
			return
		}

		amount, err := svcs.Payment.Balance(c.Request.Context(), asset, account)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, BalanceResponse{Asset: asset, Account: account, Amount: amount})
	}
}

// --- Helpers ---

// resolveAsset falls back to the registry's payment asset.
func resolveAsset(c *gin.Context, svcs *service.Services, asset string) (domain.Identity, error) {
	if asset != "" {
		return domain.Identity(asset), nil
	}

	reg, err := svcs.Registry.Get(c.Request.Context())
	if err != nil {
		return "", err
	}

	return reg.Asset, nil
}

func replay(c *gin.Context, idemKey, payload string) {
	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(payload))
}

func parseUint32Param(c *gin.Context, name string) (uint32, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint32(v), true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// registry
	case errors.Is(err, registry.ErrNotInitialized):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "registry not initialized"})
	case errors.Is(err, registry.ErrAlreadyInitialized):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "registry already initialized"})
	case errors.Is(err, registry.ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "organizer and asset are required"})
	// ledger
	case errors.Is(err, ledger.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
	case errors.Is(err, ledger.ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid price"})
	case errors.Is(err, ledger.ErrAlreadyListed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket already listed"})
	case errors.Is(err, ledger.ErrNotForSale):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket not for sale"})
	case errors.Is(err, repository.ErrContention):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "busy, retry"})
	case errors.Is(err, ledger.ErrPaymentFailed):
		c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "payment failed"})
	case errors.Is(err, ledger.ErrRateLimited):
		c.Header("Retry-After", retryAfterSeconds(err))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
	// payment
	case errors.Is(err, payment.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid amount"})
	// auth
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "unauthorized"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// retryAfterSeconds renders the limiter's delay as whole seconds, rounded up.
func retryAfterSeconds(err error) string {
	var rl *ledger.RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		return "1"
	}

	secs := int64((rl.RetryAfter + time.Second - 1) / time.Second)
	return strconv.FormatInt(secs, 10)
}
