package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/runeswap/runeswap-api/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrCodeSlippageExceeded  = "SLIPPAGE_EXCEEDED"
	ErrCodeUpstreamError     = "UPSTREAM_ERROR"
	ErrCodeRecoverable       = "RECOVERABLE"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var recoverable *types.RecoverableError
	var rpcErr *types.RpcError
	var blockErr *types.BlockVerificationError

	switch {
	case errors.As(err, &recoverable):
		// The mutation committed but the external submission outcome is
		// unknown; the record is returned so the caller can poll it.
		Accepted(c, data, err.Error())
	case errors.Is(err, types.ErrSlippageExceeded):
		errorResponse(c, http.StatusBadRequest, ErrCodeSlippageExceeded, err.Error())
	case errors.Is(err, types.ErrInsufficientBalance),
		errors.Is(err, types.ErrInsufficientReserves),
		errors.Is(err, types.ErrInsufficientLiquidity):
		errorResponse(c, http.StatusBadRequest, ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, types.ErrParams),
		errors.Is(err, types.ErrInvalidPair),
		errors.Is(err, types.ErrOverflow):
		BadRequest(c, err.Error())
	case errors.Is(err, types.ErrPoolNotFound),
		errors.Is(err, types.ErrOutPointNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrNotEnoughConfirmations):
		Conflict(c, err.Error())
	case errors.As(err, &rpcErr), errors.As(err, &blockErr):
		errorResponse(c, http.StatusBadGateway, ErrCodeUpstreamError, err.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// Accepted sends a 202 response carrying both the recorded state and the
// classification of the pending outcome.
func Accepted(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusAccepted, Response{
		Success: false,
		Data:    data,
		Error: &Error{
			Code:    ErrCodeRecoverable,
			Message: message,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	errorResponse(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	errorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	errorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	errorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	errorResponse(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
