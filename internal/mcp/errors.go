// Package mcp exposes the retrieval engine as a Model Context Protocol server.
package mcp

import (
	"context"
	"errors"
	"fmt"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeStoreUnavailable indicates the index store failed or is locked.
	ErrCodeStoreUnavailable = -32001

	// ErrCodeBackendUnavailable indicates the embedding backend failed.
	ErrCodeBackendUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts engine errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *MCPError
	if errors.As(err, &me) {
		return me
	}
	if re, ok := raerrors.As(err); ok {
		return mapRAGError(re)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

func mapRAGError(re *raerrors.RAGError) *MCPError {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", re.Message, re.Suggestion)
	}

	if re.Code == raerrors.ErrCodeIndexingTimeout {
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}
	switch re.Category {
	case raerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case raerrors.CategoryIO:
		return &MCPError{Code: ErrCodeStoreUnavailable, Message: message}
	case raerrors.CategoryBackend:
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
