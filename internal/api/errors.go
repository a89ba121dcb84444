package api

import (
	"strconv"

	"storefront-service/internal/apperrors"
	"storefront-service/internal/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Code      apperrors.Code `json:"code"`
	Message   string         `json:"message"`
	Details   any            `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// writeError maps typed errors to their status and hides everything else
// behind INTERNAL_ERROR.
func (h *Handler) writeError(c *gin.Context, err error) {
	typed := apperrors.As(err)
	if typed == nil {
		typed = apperrors.Wrap(apperrors.CodeInternal, err, "")
	}
	meta := apperrors.MetadataFor(typed.Code())

	body := errorBody{
		Code:      typed.Code(),
		Message:   typed.Message(),
		Details:   typed.Details(),
		Retryable: meta.Retryable,
	}
	if typed.Code() == apperrors.CodeInternal || body.Message == "" {
		body.Message = meta.PublicMessage
	}
	if typed.Code() == apperrors.CodeInternal {
		body.Details = nil
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}

	c.JSON(meta.HTTPStatus, gin.H{"error": body})
}

func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.writeError(c, apperrors.Wrap(apperrors.CodeValidation, err, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(c, apperrors.New(apperrors.CodeValidation, "invalid "+name).
			WithDetails(map[string]string{name: "must be a positive integer"}))
		return 0, false
	}
	return id, true
}

func (h *Handler) caller(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromContext(c)
	if !ok {
		h.writeError(c, apperrors.New(apperrors.CodeUnauthorized, "authentication required"))
		return auth.Identity{}, false
	}
	return id, true
}
