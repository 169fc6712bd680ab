package server

import (
	"encoding/json"
	"fmt"

	"github.com/acheong08/depaudit/internal/report"
	"github.com/acheong08/depaudit/pkg/models"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> Server
	TypeAudit MessageType = "audit" // Client sends package.json or a source to audit
	TypePing  MessageType = "ping"  // Keep-alive

	// Server -> Client
	TypeProgress MessageType = "progress" // Progress updates
	TypeLog      MessageType = "log"      // Log messages for terminal
	TypeResult   MessageType = "result"   // Verdict for one dependency
	TypeComplete MessageType = "complete" // Audit complete, carries the full report
	TypeError    MessageType = "error"    // Error message
	TypePong     MessageType = "pong"
)

// Message is the base WebSocket message structure
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuditPayload sent by client to start an audit. Exactly one field is used;
// package_json wins when both are set.
type AuditPayload struct {
	PackageJSON string `json:"package_json,omitempty"` // Raw package.json content
	Source      string `json:"source,omitempty"`       // GitHub URL or owner/name
}

// ProgressPayload for progress bar updates
type ProgressPayload struct {
	Percent int    `json:"percent"` // 0-100
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message"` // Human-readable status
}

// LogPayload for terminal output
type LogPayload struct {
	Message string `json:"message"`         // Log message
	Level   string `json:"level,omitempty"` // "info", "success", "warning", "error"
}

// ResultPayload carries one dependency verdict as soon as it is known
type ResultPayload struct {
	DependencyID string                  `json:"dependency_id"` // "name@version"
	Result       models.EvaluationResult `json:"result"`
}

// CompletePayload sent when the audit is done
type CompletePayload struct {
	Success bool             `json:"success"` // false when any dependency was rejected
	Message string           `json:"message"`
	Report  *report.Document `json:"report,omitempty"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Helper functions to create messages

func NewProgressMessage(done, total int, message string) Message {
	percent := 100
	if total > 0 {
		percent = done * 100 / total
	}
	payload := ProgressPayload{
		Percent: percent,
		Done:    done,
		Total:   total,
		Message: message,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeProgress, Payload: payloadBytes}
}

func NewLogMessage(message, level string) Message {
	payload := LogPayload{
		Message: message,
		Level:   level,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeLog, Payload: payloadBytes}
}

func NewResultMessage(result models.EvaluationResult) Message {
	payload := ResultPayload{
		DependencyID: result.Dependency.ID(),
		Result:       result,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeResult, Payload: payloadBytes}
}

func NewCompleteMessage(doc *report.Document) Message {
	payload := CompletePayload{
		Success: doc.Status != models.StatusRejected,
		Message: completeMessage(doc),
		Report:  doc,
	}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeComplete, Payload: payloadBytes}
}

func completeMessage(doc *report.Document) string {
	s := doc.Summary
	switch doc.Status {
	case models.StatusRejected:
		return fmt.Sprintf("Audit failed: %d of %d dependencies rejected", s.Rejected, s.Total)
	case models.StatusNeedsReview:
		return fmt.Sprintf("Audit passed with warnings: %d of %d dependencies need review", s.NeedsReview, s.Total)
	default:
		return fmt.Sprintf("Audit passed: all %d dependencies approved", s.Total)
	}
}

func NewErrorMessage(message string, err error) Message {
	errMsg := message
	if err != nil {
		errMsg = fmt.Sprintf("%s: %v", message, err)
	}
	payload := ErrorPayload{Message: errMsg}
	payloadBytes, _ := json.Marshal(payload)
	return Message{Type: TypeError, Payload: payloadBytes}
}

// ParseAuditPayload extracts the audit payload from a message
func ParseAuditPayload(msg Message) (*AuditPayload, error) {
	var payload AuditPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse audit payload: %w", err)
	}
	if payload.PackageJSON == "" && payload.Source == "" {
		return nil, fmt.Errorf("audit payload needs package_json or source")
	}
	return &payload, nil
}
