package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	timestampHeader = "X-Slack-Request-Timestamp"
	signatureHeader = "X-Slack-Signature"

	rawBodyContextKey   = "hotdog_raw_body"
	requestIDContextKey = "hotdog_request_id"
)

// tagRequest assigns a request id so every log line from one webhook delivery
// can be correlated.
func (h *httpHandler) tagRequest(c *gin.Context) {
	requestID := uuid.NewString()
	c.Set(requestIDContextKey, requestID)
	c.Header("X-Request-Id", requestID)
	c.Next()
}

// verifySignature buffers the request body once, authenticates it, and stores
// the verified bytes for the handler. The signature covers the exact byte
// sequence, so the body is never re-read from the transport stream.
func (h *httpHandler) verifySignature(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("failed to read request body", zap.Error(err), requestIDField(c))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	err = h.verifier.Verify(c.GetHeader(timestampHeader), c.GetHeader(signatureHeader), body)
	if err != nil {
		h.logger.Warn("request signature rejected", zap.Error(err), requestIDField(c))
		c.String(http.StatusUnauthorized, "Bad signature")
		c.Abort()
		return
	}

	c.Set(rawBodyContextKey, body)
	c.Next()
}

func verifiedBody(c *gin.Context) []byte {
	if body, ok := c.Get(rawBodyContextKey); ok {
		if bytes, ok := body.([]byte); ok {
			return bytes
		}
	}
	return nil
}

func requestIDField(c *gin.Context) zap.Field {
	return zap.String("request_id", c.GetString(requestIDContextKey))
}
