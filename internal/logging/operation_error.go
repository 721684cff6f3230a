package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// OperationError records where an error happened: the operation, the
// request or preview it concerned and, when known, the browser session.
type OperationError struct {
	Operation string
	RequestID string
	SessionID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	if tags := e.tags(); len(tags) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(tags, " "))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OperationError) tags() []string {
	var tags []string
	if e.RequestID != "" {
		tags = append(tags, "request_id="+e.RequestID)
	}
	if e.SessionID != "" {
		tags = append(tags, "session_id="+e.SessionID)
	}
	return tags
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MarshalLogObject lets zap.Object emit the context as separate fields.
func (e *OperationError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("operation", e.Operation)
	if e.RequestID != "" {
		enc.AddString("request_id", e.RequestID)
	}
	if e.SessionID != "" {
		enc.AddString("session_id", e.SessionID)
	}
	if e.Err != nil {
		enc.AddString("cause", e.Err.Error())
	}
	return nil
}

// NewOperationError wraps err, returning nil when err is nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// TagSession attaches sessionID to err. A top-level OperationError is copied
// with the session set; any other error is wrapped under operation.
func TagSession(err error, operation, sessionID string) error {
	if err == nil || sessionID == "" {
		return err
	}
	if opErr, ok := err.(*OperationError); ok {
		if opErr.SessionID != "" {
			return err
		}
		tagged := *opErr
		tagged.SessionID = sessionID
		return &tagged
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Err: err}
}
