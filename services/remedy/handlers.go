// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remedy

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/remedy/services/remedy/ast"
	"github.com/AleutianAI/remedy/services/remedy/patch"
)

// ErrorResponse is the JSON error body for all handlers.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ContextRequest is the POST /v1/remedy/context body.
type ContextRequest struct {
	TestFile      string `json:"test_file" binding:"required"`
	UnitName      string `json:"unit_name" binding:"required"`
	ErrorKind     string `json:"error_kind"`
	ErrorMessage  string `json:"error_message"`
	TracebackText string `json:"traceback_text"`
}

// SearchRequest is the POST /v1/remedy/search body. Method and Path
// together switch the query to endpoint-handler search.
type SearchRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// IndexRequest is the POST /v1/remedy/index body.
type IndexRequest struct {
	Force bool `json:"force"`
}

// IndexResponse reports the built index size.
type IndexResponse struct {
	Elements int `json:"elements"`
}

// PatchRequestBody is the POST /v1/remedy/patch body.
type PatchRequestBody struct {
	FilePath    string `json:"file_path" binding:"required"`
	UnitName    string `json:"unit_name" binding:"required"`
	Replacement string `json:"replacement" binding:"required"`
}

// FileRequest is the POST /v1/remedy/patch/file body.
type FileRequest struct {
	FilePath string `json:"file_path" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// ValidateRequest is the POST /v1/remedy/validate body.
type ValidateRequest struct {
	FilePath string `json:"file_path" binding:"required"`
}

// ValidateResponse reports standalone validation.
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Handlers exposes the Service over HTTP.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handler set over a service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleContext handles POST /v1/remedy/context.
//
// Description:
//
//	Resolves a failing test unit to a bounded context payload:
//	structural extraction merged with semantic retrieval. An empty
//	payload is a valid 200; the caller decides what to do with it.
//
// Response:
//
//	200 OK: ContextResult
//	400 Bad Request: malformed body
func (h *Handlers) HandleContext(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleContext")

	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.service.GetContext(c.Request.Context(), FailingUnitDescriptor{
		TestFile:      req.TestFile,
		UnitName:      req.UnitName,
		ErrorKind:     req.ErrorKind,
		ErrorMessage:  req.ErrorMessage,
		TracebackText: req.TracebackText,
	})
	if err != nil {
		logger.Error("context resolution failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "CONTEXT_FAILED",
		})
		return
	}

	logger.Info("context resolved",
		slog.String("unit", req.UnitName),
		slog.Int("items", len(result.Items)),
		slog.String("diagnostic", result.Stats.Diagnostic),
	)
	c.JSON(http.StatusOK, result)
}

// HandleSearch handles POST /v1/remedy/search.
//
// Description:
//
//	Free-text semantic search, or endpoint-handler search when method
//	and path are both present. No results is a valid 200 with an empty
//	list.
//
// Response:
//
//	200 OK: []semantic.SearchResult
//	400 Bad Request: neither query nor (method, path)
//	503 Service Unavailable: embeddings disabled
func (h *Handlers) HandleSearch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSearch")

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	ctx := c.Request.Context()
	var (
		results interface{}
		err     error
	)
	switch {
	case req.Method != "" && req.Path != "":
		results, err = h.service.SearchByEndpoint(ctx, req.Method, req.Path, req.TopK)
	case req.Query != "":
		results, err = h.service.Search(ctx, req.Query, req.TopK)
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "query or (method, path) is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		code := "SEARCH_FAILED"
		if errors.Is(err, ErrEmbeddingsDisabled) {
			status = http.StatusServiceUnavailable
			code = "EMBEDDINGS_DISABLED"
		}
		logger.Warn("search failed", slog.Any("error", err))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, results)
}

// HandleIndex handles POST /v1/remedy/index.
//
// Description:
//
//	Builds the semantic index, reusing a persisted snapshot unless
//	force. Safe to call repeatedly; a build replaces the in-memory
//	index wholesale.
//
// Response:
//
//	200 OK: IndexResponse
//	500 Internal Server Error: project walk failed
//	503 Service Unavailable: embeddings disabled
func (h *Handlers) HandleIndex(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIndex")

	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.service.BuildIndex(c.Request.Context(), req.Force); err != nil {
		status := http.StatusInternalServerError
		code := "INDEX_FAILED"
		if errors.Is(err, ErrEmbeddingsDisabled) {
			status = http.StatusServiceUnavailable
			code = "EMBEDDINGS_DISABLED"
		}
		logger.Error("index build failed", slog.Any("error", err))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("index built", slog.Int("elements", h.service.IndexSize()))
	c.JSON(http.StatusOK, IndexResponse{Elements: h.service.IndexSize()})
}

// HandlePatch handles POST /v1/remedy/patch.
//
// Description:
//
//	Applies one unit replacement. A rejection (syntax or failed scoped
//	validation) is a 200 with applied=false and the reason; the file is
//	untouched. Only a missing target or an I/O failure is an error
//	status.
//
// Response:
//
//	200 OK: patch.PatchResult
//	404 Not Found: unit not in file (diagnostic lists available names)
//	422 Unprocessable Entity: target file does not parse
//	500 Internal Server Error: I/O or restore failure
func (h *Handlers) HandlePatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePatch")

	var req PatchRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.service.Apply(c.Request.Context(), patch.PatchRequest{
		FilePath:    req.FilePath,
		UnitName:    req.UnitName,
		Replacement: req.Replacement,
	})
	if err != nil {
		writePatchError(c, logger, err)
		return
	}

	logger.Info("patch processed",
		slog.String("file", req.FilePath),
		slog.String("unit", req.UnitName),
		slog.Bool("applied", result.Applied),
		slog.String("reason", result.Reason),
	)
	c.JSON(http.StatusOK, result)
}

// HandlePatchFile handles POST /v1/remedy/patch/file.
//
// Response:
//
//	200 OK: whole file validated and written
//	422 Unprocessable Entity: content does not parse
func (h *Handlers) HandlePatchFile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePatchFile")

	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.service.ApplyFile(c.Request.Context(), req.FilePath, req.Content); err != nil {
		logger.Warn("whole-file patch rejected",
			slog.String("file", req.FilePath),
			slog.Any("error", err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "FILE_REJECTED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": true})
}

// HandleValidate handles POST /v1/remedy/validate.
//
// Response:
//
//	200 OK: ValidateResponse (valid either way; the finding is the body)
func (h *Handlers) HandleValidate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := h.service.ValidateFile(c.Request.Context(), req.FilePath); err != nil {
		c.JSON(http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{Valid: true})
}

// HandleHealth handles GET /v1/remedy/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	stats := h.service.CacheStats()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"cached_files":  stats.CachedFiles,
		"index_size":    h.service.IndexSize(),
		"embeddings":    h.service.retriever != nil,
		"scoped_runner": h.service.runner != nil,
	})
}

// writePatchError maps patch errors to statuses. Target-not-found keeps
// its diagnostic (the available names) in the body; the proposer uses
// it to pick a real target on retry.
func writePatchError(c *gin.Context, logger *slog.Logger, err error) {
	var notFound *patch.TargetNotFoundError
	var parseErr *ast.ParseError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: notFound.Error(),
			Code:  "TARGET_NOT_FOUND",
		})
	case errors.As(err, &parseErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: parseErr.Error(),
			Code:  "FILE_UNPARSEABLE",
		})
	case errors.Is(err, patch.ErrRestoreFailed):
		logger.Error("restore failed, file may be inconsistent", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RESTORE_FAILED",
		})
	default:
		logger.Error("patch failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "PATCH_FAILED",
		})
	}
}
