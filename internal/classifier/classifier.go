package classifier

import (
	"context"
	"errors"
	"fmt"
)

// Prediction is the payload returned by the classification service.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Upload is the image handed to the classifier.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client exposes the subset of functionality used by the upload flow.
type Client interface {
	Classify(ctx context.Context, requestID string, upload Upload) (*Prediction, error)
}

// StatusError is returned when the service answers with anything but 200.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("classifier responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("classifier responded with status %d: %s", e.StatusCode, e.Body)
}

// GenericFailureMessage is shown for transport and decoding failures.
const GenericFailureMessage = "Unable to reach the classification service. Please try again."

// UserMessage maps a Classify error to the text shown on the page.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("Classification failed: server responded with status %d.", statusErr.StatusCode)
	}
	return GenericFailureMessage
}
