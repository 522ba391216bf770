package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fintelligence/internal/models"
)

const (
	msgNoDocument     = "No PDF file uploaded"
	msgInvalidAPIKey  = "Please enter a valid API key"
	msgNoTransactions = "No transaction data provided"
	msgInvalidBody    = "Invalid request body"

	msgBankSummaryFailed  = "Failed to parse PDF. Please try again or enter data manually."
	msgBrokerageFailed    = "Failed to connect to brokerage. Please try again."
	msgStatementTxFailed  = "Failed to parse transaction PDF."
	msgTextTxFailed       = "Failed to parse transactions."
	msgAdviceFailed       = "Failed to generate financial advice"
	minAPIKeyChars        = 4
	brokerageKeySuffixLen = 4
)

// ErrNotJSONObject is returned when a JSON-mode completion is not a JSON object.
var ErrNotJSONObject = errors.New("completion is not a json object")

// Completer issues one chat completion.
type Completer interface {
	Complete(ctx context.Context, messages []*models.Message, format models.OutputFormat) (string, error)
}

// TextExtractor turns an uploaded document into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, filename string, data []byte) (string, error)
}

// Document is an uploaded file held in memory.
type Document struct {
	Filename string
	Data     []byte
}

// Service builds the prompt for each operation, makes exactly one completion
// call and validates the result. It holds no per-request state.
type Service struct {
	completer Completer
	extractor TextExtractor
}

func NewService(completer Completer, extractor TextExtractor) *Service {
	return &Service{completer: completer, extractor: extractor}
}

// ExtractBankSummary pulls balances and transactions out of a bank statement.
func (s *Service) ExtractBankSummary(ctx context.Context, doc *Document) (json.RawMessage, error) {
	if doc == nil {
		return nil, invalid(msgNoDocument)
	}
	text, err := s.extractor.ExtractText(ctx, doc.Filename, doc.Data)
	if err != nil {
		return nil, &UpstreamError{Op: "extract bank statement", Message: msgBankSummaryFailed, Err: err}
	}
	return s.completeJSON(ctx, "bank summary", msgBankSummaryFailed, bankSummaryMessages(text))
}

// SimulateBrokerageConnection asks the model for a plausible portfolio. Only the
// last four characters of the key leave the process.
func (s *Service) SimulateBrokerageConnection(ctx context.Context, req *models.BrokerageRequest) (json.RawMessage, error) {
	if req == nil {
		return nil, invalid(msgInvalidAPIKey)
	}
	key := strings.TrimSpace(req.APIKey)
	if len([]rune(key)) < minAPIKeyChars {
		return nil, invalid(msgInvalidAPIKey)
	}
	return s.completeJSON(ctx, "brokerage", msgBrokerageFailed, brokerageMessages(lastChars(key, brokerageKeySuffixLen)))
}

// ExtractTransactionsFromDocument categorizes the transactions in a statement.
func (s *Service) ExtractTransactionsFromDocument(ctx context.Context, doc *Document) (json.RawMessage, error) {
	if doc == nil {
		return nil, invalid(msgNoDocument)
	}
	text, err := s.extractor.ExtractText(ctx, doc.Filename, doc.Data)
	if err != nil {
		return nil, &UpstreamError{Op: "extract transaction statement", Message: msgStatementTxFailed, Err: err}
	}
	return s.completeJSON(ctx, "statement transactions", msgStatementTxFailed, statementTransactionsMessages(text))
}

// ExtractTransactionsFromText categorizes free-form transaction text.
func (s *Service) ExtractTransactionsFromText(ctx context.Context, req *models.TransactionTextRequest) (json.RawMessage, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, invalid(msgNoTransactions)
	}
	return s.completeJSON(ctx, "text transactions", msgTextTxFailed, textTransactionsMessages(req.Text))
}

// GenerateAdvice returns a markdown recommendation for the caller's finances.
func (s *Service) GenerateAdvice(ctx context.Context, req *models.AdviceRequest) (*models.AdviceResponse, error) {
	if req == nil {
		return nil, invalid(msgInvalidBody)
	}
	advice, err := s.completer.Complete(ctx, adviceMessages(req), models.FormatText)
	if err != nil {
		return nil, &UpstreamError{Op: "advice", Message: msgAdviceFailed, Err: err}
	}
	return &models.AdviceResponse{Advice: advice}, nil
}

func (s *Service) completeJSON(ctx context.Context, op, failure string, messages []*models.Message) (json.RawMessage, error) {
	reply, err := s.completer.Complete(ctx, messages, models.FormatJSONObject)
	if err != nil {
		return nil, &UpstreamError{Op: op, Message: failure, Err: err}
	}
	obj, err := decodeObject(reply)
	if err != nil {
		return nil, &UpstreamError{Op: op, Message: failure, Err: err}
	}
	return obj, nil
}

// decodeObject accepts a JSON object, optionally wrapped in a markdown code fence.
func decodeObject(reply string) (json.RawMessage, error) {
	body := bytes.TrimSpace([]byte(stripFence(reply)))
	if len(body) == 0 || body[0] != '{' {
		return nil, ErrNotJSONObject
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrNotJSONObject)
	}
	return json.RawMessage(body), nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
