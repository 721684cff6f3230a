package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/cellscan/internal/logging"
)

// FileField is the multipart part name the classification service reads.
const FileField = "file"

const maxErrorBody = 512

// HTTPClient posts images to the classification endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewHTTPClient returns a client for the given endpoint URL.
func NewHTTPClient(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		tracer:   otel.Tracer("github.com/example/cellscan/internal/classifier"),
		logger:   logger.Named("classifier"),
	}
}

// Classify issues exactly one multipart POST; it never retries.
func (c *HTTPClient) Classify(ctx context.Context, requestID string, upload Upload) (*Prediction, error) {
	ctx, span := c.tracer.Start(ctx, "classifier.classify", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.Int("upload.size", len(upload.Data)),
	)

	opLogger := logging.WithOperation(c.logger, "classifier.classify", requestID)
	start := time.Now()

	prediction, err := c.do(ctx, upload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		wrapped := logging.NewOperationError("classifier.classify", requestID, err)
		opLogger.Warn("classification request failed", zap.Error(wrapped), zap.Duration("elapsed", time.Since(start)))
		return nil, wrapped
	}

	span.SetAttributes(
		attribute.String("prediction.class", prediction.Class),
		attribute.Float64("prediction.confidence", prediction.Confidence),
	)
	opLogger.Info("classification complete",
		zap.String("class", prediction.Class),
		zap.Float64("confidence", prediction.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return prediction, nil
}

func (c *HTTPClient) do(ctx context.Context, upload Upload) (*Prediction, error) {
	body, contentType, err := encodeMultipart(upload)
	if err != nil {
		return nil, fmt.Errorf("encode multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &prediction, nil
}

func encodeMultipart(upload Upload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := upload.Filename
	if filename == "" {
		filename = "upload"
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
