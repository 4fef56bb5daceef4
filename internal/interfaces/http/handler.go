package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/usecases"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ChannelAdmin is the channel CRUD the console needs.
type ChannelAdmin interface {
	ListChannels(ctx context.Context) ([]entities.Channel, error)
	GetChannel(ctx context.Context, id string) (*entities.Channel, error)
	CreateChannel(ctx context.Context, ch entities.Channel) (*entities.Channel, error)
	UpdateChannel(ctx context.Context, ch entities.Channel) (*entities.Channel, error)
	DeleteChannel(ctx context.Context, id string) error
}

// InstanceAdmin is the instance-credential CRUD the console needs.
type InstanceAdmin interface {
	ListInstances(ctx context.Context) ([]entities.Instance, error)
	GetInstance(ctx context.Context, id string) (*entities.Instance, error)
	CreateInstance(ctx context.Context, inst entities.Instance) (*entities.Instance, error)
	DeleteInstance(ctx context.Context, id string) error
}

type Deps struct {
	Channels  ChannelAdmin
	Instances InstanceAdmin
	Resolver  *usecases.IdentityResolver
	Directory *usecases.InstanceDirectory
	Lifecycle *usecases.ConnectionLifecycle
	Tables    *usecases.TableDirectory
	Router    *usecases.MessageRouter
	Logger    *slog.Logger

	PollInterval time.Duration
	PollTimeout  time.Duration
}

type Handler struct {
	Deps
	logger *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{Deps: deps, logger: deps.Logger.With(slog.String("component", "http"))}
}

// SetupRoutes registers the public webhook, the static media tree and the
// authenticated console API.
func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware, mediaDir string, apiRate float64, apiBurst int) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(20 << 20)) // inline media travels in the body
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.POST("/webhook/gateway/:channel", h.HandleGatewayWebhook)
	if mediaDir != "" {
		r.Static("/media", mediaDir)
	}

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerUser(rate.Limit(apiRate), apiBurst))
	{
		api.GET("/channels", h.ListChannels)
		api.POST("/channels", h.CreateChannel)
		api.PUT("/channels/:id", h.UpdateChannel)
		api.DELETE("/channels/:id", h.DeleteChannel)
		api.GET("/channels/resolve/:token", h.ResolveChannel)
		api.PUT("/channels/:id/table", h.SetChannelTable)

		api.GET("/instances", h.ListInstances)
		api.POST("/instances", h.CreateInstance)
		api.DELETE("/instances/:id", h.DeleteInstance)

		api.GET("/mappings", h.ListMappings)
		api.GET("/mappings/:channel", h.GetMapping)
		api.PUT("/mappings/:channel", h.UpsertMapping)
		api.DELETE("/mappings/:channel", h.DeleteMapping)
		api.GET("/mappings/:channel/status", h.GetStatus)
		api.POST("/mappings/:channel/connect", h.Connect)
		api.GET("/mappings/:channel/qr", h.GetQRCode)
		api.POST("/mappings/:channel/poll", h.StartPoll)
		api.DELETE("/mappings/:channel/poll", h.CancelPoll)
		api.POST("/mappings/:channel/restart", h.Restart)
		api.POST("/mappings/:channel/logout", h.Logout)
		api.GET("/mappings/:channel/webhook", h.CheckWebhook)
		api.POST("/mappings/:channel/webhook/repair", h.RepairWebhook)

		api.POST("/messages/send", h.SendMessage)
		api.GET("/messages/:channel/:contact", h.GetHistory)
		api.PUT("/messages/:channel/:contact/read", h.MarkRead)
	}
}

// statusFor maps an error code onto the HTTP status the console expects.
func statusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case entities.CodeChannelNotFound, entities.CodeNoInstanceConfigured, entities.CodeInstanceNotFound:
		return http.StatusNotFound
	case entities.CodeInvalidContent:
		return http.StatusBadRequest
	case entities.CodeRateLimited:
		return http.StatusTooManyRequests
	case entities.CodeInstanceUnreachable:
		return http.StatusServiceUnavailable
	case entities.CodeGatewayRejected:
		return http.StatusBadGateway
	case entities.CodeConfigurationDrift:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := entities.ErrorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	body := gin.H{"error": err.Error(), "code": code}
	var gwErr *entities.GatewayError
	if errors.As(err, &gwErr) {
		body["gateway_status"] = gwErr.StatusCode
	}
	c.JSON(status, body)
}

// mappingFor resolves the :channel param and returns its active mapping.
func (h *Handler) mappingFor(c *gin.Context) (*entities.InstanceMapping, bool) {
	channelID, err := h.Resolver.Resolve(c.Request.Context(), c.Param("channel"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	m, err := h.Directory.Require(c.Request.Context(), channelID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return m, true
}
