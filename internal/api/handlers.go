package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"fintelligence/internal/logger"
	"fintelligence/internal/models"
	"fintelligence/internal/service/relay"
	"fintelligence/internal/worker"
)

const (
	uploadField       = "pdf"
	msgNoDocument     = "No PDF file uploaded"
	msgInvalidBody    = "Invalid request body"
	msgInvalidForm    = "Invalid multipart form"
	msgBodyTooLarge   = "Request body too large"
	msgInternalError  = "Internal server error"
	msgServerBusy     = "server is busy, please retry"
	multipartOverhead = 64 << 10
)

//go:embed static/index.html
var indexHTML []byte

// Limits caps request sizes.
type Limits struct {
	MaxUploadBytes   int64
	MaxJSONBodyBytes int64
}

// Handler wires HTTP routes to the relay service.
type Handler struct {
	relay  *relay.Service
	limits Limits
	now    func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(service *relay.Service, limits Limits) *Handler {
	return &Handler{relay: service, limits: limits, now: time.Now}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.index)
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.POST("/parse-pdf", h.parsePDF)
	api.POST("/connect-brokerage", h.connectBrokerage)
	api.POST("/parse-transaction-pdf", h.parseTransactionPDF)
	api.POST("/parse-transactions", h.parseTransactions)
	api.POST("/analyze", h.analyze)
}

func (h *Handler) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) parsePDF(c *gin.Context) {
	doc, err := h.readDocument(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.relay.ExtractBankSummary(c.Request.Context(), doc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeRawJSON(c, result)
}

func (h *Handler) connectBrokerage(c *gin.Context) {
	var req models.BrokerageRequest
	if err := h.bindJSON(c, &req, true); err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.relay.SimulateBrokerageConnection(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeRawJSON(c, result)
}

func (h *Handler) parseTransactionPDF(c *gin.Context) {
	doc, err := h.readDocument(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.relay.ExtractTransactionsFromDocument(c.Request.Context(), doc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeRawJSON(c, result)
}

func (h *Handler) parseTransactions(c *gin.Context) {
	var req models.TransactionTextRequest
	if err := h.bindJSON(c, &req, true); err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.relay.ExtractTransactionsFromText(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeRawJSON(c, result)
}

func (h *Handler) analyze(c *gin.Context) {
	var req models.AdviceRequest
	if err := h.bindJSON(c, &req, false); err != nil {
		h.writeError(c, err)
		return
	}
	resp, err := h.relay.GenerateAdvice(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bindJSON decodes a size-capped JSON object body. An empty body decodes to the
// zero value when allowEmpty is set so field validation can report it.
func (h *Handler) bindJSON(c *gin.Context, v any, allowEmpty bool) error {
	if h.limits.MaxJSONBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.limits.MaxJSONBodyBytes)
	}
	err := c.ShouldBindJSON(v)
	if err == nil {
		return nil
	}
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return &relay.ValidationError{Message: msgBodyTooLarge, TooLarge: true}
	case allowEmpty && errors.Is(err, io.EOF):
		return nil
	default:
		return &relay.ValidationError{Message: msgInvalidBody}
	}
}

// readDocument loads the uploaded statement into memory, enforcing the upload limit.
func (h *Handler) readDocument(c *gin.Context) (*relay.Document, error) {
	limit := h.limits.MaxUploadBytes
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}
	file, err := c.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, h.tooLarge()
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, &relay.ValidationError{Message: msgNoDocument}
		default:
			return nil, &relay.ValidationError{Message: msgInvalidForm}
		}
	}
	if limit > 0 && file.Size > limit {
		return nil, h.tooLarge()
	}
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &relay.Document{Filename: filepath.Base(file.Filename), Data: data}, nil
}

func (h *Handler) tooLarge() error {
	return &relay.ValidationError{
		Message:  fmt.Sprintf("File too large. Maximum size is %dMB", h.limits.MaxUploadBytes>>20),
		TooLarge: true,
	}
}

// writeError maps relay error kinds to status codes. Upstream causes are only logged.
func (h *Handler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	var verr *relay.ValidationError
	var uerr *relay.UpstreamError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.TooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": verr.Message})
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": msgServerBusy})
	case errors.As(err, &uerr):
		logger.FromContext(c.Request.Context()).Error().
			Err(uerr.Err).
			Str("op", uerr.Op).
			Msg("relay request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": uerr.Message})
	default:
		logger.FromContext(c.Request.Context()).Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
	}
}

func writeRawJSON(c *gin.Context, body json.RawMessage) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
