package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HeaderOrderSignature = "X-Shopify-Hmac-Sha256"
	maxWebhookBody       = 1 << 20
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// VerifyOrderSignature checks the base64 HMAC-SHA256 of the raw body. An
// empty secret disables the check. The body is restored for the handler.
func VerifyOrderSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{
					Error:   "body_too_large",
					Message: "Request body is too large",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
				Error:   "invalid_body",
				Message: "Failed to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		got, err := base64.StdEncoding.DecodeString(c.GetHeader(HeaderOrderSignature))
		if err != nil || !hmac.Equal(got, Sign(body, secret)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error:   "invalid_signature",
				Message: "Webhook signature mismatch",
			})
			return
		}

		c.Next()
	}
}

func Sign(body []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}

// RequireSharedSecret compares header against secret in constant time. With
// no secret configured every request is rejected.
func RequireSharedSecret(header, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(header)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error:   "unauthorized",
				Message: "Invalid webhook secret",
			})
			return
		}
		c.Next()
	}
}
