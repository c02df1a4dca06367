package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/snackops/hotdog-counter/internal/events"
	"github.com/snackops/hotdog-counter/internal/leaderboard"
)

var (
	errMissingVerifier  = errors.New("signature verifier dependency required")
	errMissingProcessor = errors.New("event processor dependency required")
	errMissingQuery     = errors.New("query service dependency required")
)

// SignatureVerifier authenticates inbound platform requests against the raw
// body bytes.
type SignatureVerifier interface {
	Verify(timestamp, signature string, body []byte) error
}

// Dependencies wires the HTTP surface to the ingestion pipeline and read side.
type Dependencies struct {
	Verifier  SignatureVerifier
	Processor *events.Processor
	Query     *leaderboard.Service
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router for the webhook, command, read API,
// and health endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.Processor == nil {
		return nil, errMissingProcessor
	}
	if deps.Query == nil {
		return nil, errMissingQuery
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:  deps.Verifier,
		processor: deps.Processor,
		query:     deps.Query,
		logger:    logger,
	}

	router.GET("/health", handler.handleHealth)

	signed := router.Group("/slack")
	signed.Use(handler.tagRequest)
	signed.Use(handler.verifySignature)
	signed.POST("/events", handler.handleSlackEvents)
	signed.POST("/command", handler.handleSlashCommand)

	// The dashboard client calls the /api prefix; the bare paths resolve to
	// the same handlers.
	router.GET("/api/channels", handler.handleChannels)
	router.GET("/api/leaderboard", handler.handleLeaderboard)
	router.GET("/channels", handler.handleChannels)
	router.GET("/leaderboard", handler.handleLeaderboard)

	return router, nil
}

type httpHandler struct {
	verifier  SignatureVerifier
	processor *events.Processor
	query     *leaderboard.Service
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *httpHandler) handleSlackEvents(c *gin.Context) {
	body := verifiedBody(c)

	outcome, err := h.processor.HandleEnvelope(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, events.ErrMalformedEnvelope) {
			h.logger.Warn("malformed event envelope", zap.Error(err), requestIDField(c))
		} else {
			h.logger.Error("event processing failed", zap.Error(err), requestIDField(c))
		}
		c.String(http.StatusInternalServerError, "Server error")
		return
	}

	if outcome.Kind == events.OutcomeChallenge {
		c.JSON(http.StatusOK, gin.H{"challenge": outcome.Challenge})
		return
	}
	c.String(http.StatusOK, "")
}

type commandResponsePayload struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func (h *httpHandler) handleSlashCommand(c *gin.Context) {
	// The raw bytes were consumed for signature verification; restore them
	// for form parsing.
	c.Request.Body = io.NopCloser(bytes.NewReader(verifiedBody(c)))

	command, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		h.logger.Warn("malformed slash command", zap.Error(err), requestIDField(c))
		c.String(http.StatusInternalServerError, "Server error")
		return
	}

	reply, err := h.query.CommandReply(c.Request.Context(), command.ChannelID, command.UserID, command.Text)
	if err != nil {
		h.logger.Error("command query failed", zap.Error(err), requestIDField(c))
		c.String(http.StatusInternalServerError, "Server error")
		return
	}

	c.JSON(http.StatusOK, commandResponsePayload{ResponseType: "ephemeral", Text: reply})
}

func (h *httpHandler) handleChannels(c *gin.Context) {
	response, err := h.query.Channels(c.Request.Context())
	if err != nil {
		h.logger.Error("channel listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	channelID := c.Query("channel_id")
	if channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
		return
	}

	response, err := h.query.Leaderboard(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Error("leaderboard query failed", zap.Error(err), zap.String("channel_id", channelID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, response)
}
