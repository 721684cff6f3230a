package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cellscan/internal/classifier"
	"github.com/example/cellscan/internal/logging"
	"github.com/example/cellscan/internal/preview"
)

// CanceledMessage is shown when the visible submission was aborted explicitly.
const CanceledMessage = "Classification was cancelled."

// ErrClosed is returned by operations on a closed component.
var ErrClosed = errors.New("image upload component is closed")

// File is the image picked from the drop target.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// State is the transient component state. The zero value is the empty state.
type State struct {
	File         *File
	PreviewURL   string
	HasImage     bool
	IsLoading    bool
	Result       *classifier.Prediction
	ErrorMessage string
}

// Options tunes presentation.
type Options struct {
	// BenignLabel is the class rendered as a negative finding.
	BenignLabel string
	// SessionID tags errors logged by the component.
	SessionID string
}

// ImageUpload owns one browser's upload flow: selection, submission, result
// and clear. Only the newest selection's outcome ever becomes visible.
type ImageUpload struct {
	classifier  classifier.Client
	previews    preview.Store
	metrics     *Metrics
	logger      *zap.Logger
	benignLabel string
	sessionID   string

	mu          sync.Mutex
	state       State
	token       uint64
	inflight    *Submission
	closed      bool
	subscribers map[int]chan View
	nextSubID   int
}

// NewImageUpload constructs an empty component.
func NewImageUpload(client classifier.Client, previews preview.Store, metrics *Metrics, logger *zap.Logger, opts Options) *ImageUpload {
	if opts.BenignLabel == "" {
		opts.BenignLabel = "Benign"
	}
	return &ImageUpload{
		classifier:  client,
		previews:    previews,
		metrics:     metrics,
		logger:      logger.Named("image_upload"),
		benignLabel: opts.BenignLabel,
		sessionID:   opts.SessionID,
		subscribers: make(map[int]chan View),
	}
}

// Select handles a drop-target change. A nil file resets the component; any
// other file replaces the current one and starts its submission, which is
// returned. The previous submission, if any, is cancelled and its outcome
// will be discarded.
func (u *ImageUpload) Select(ctx context.Context, file *File) (*Submission, error) {
	if file == nil {
		return nil, u.reset(ctx, "usecase.select_empty")
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(u.logger, "usecase.select", requestID)

	rendered := preview.Render(preview.Image{ContentType: file.ContentType, Data: file.Data})
	previewID, err := u.previews.Put(ctx, rendered)
	if err != nil {
		wrapped := logging.TagSession(logging.NewOperationError("usecase.store_preview", requestID, err), "usecase.store_preview", u.sessionID)
		opLogger.Error("failed to store preview", zap.Error(wrapped))
		return nil, wrapped
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		u.releasePreview(ctx, previewID, requestID)
		return nil, ErrClosed
	}
	superseded := u.inflight
	oldPreview := preview.IDFromURL(u.state.PreviewURL)

	u.token++
	sub := newSubmission(context.Background(), u.token, requestID)
	u.inflight = sub
	u.state = State{
		File:       file,
		PreviewURL: preview.URL(previewID),
		HasImage:   true,
		IsLoading:  true,
	}
	u.notifyLocked()
	u.mu.Unlock()

	if superseded != nil {
		superseded.Cancel()
		opLogger.Info("superseding in-flight submission", zap.String("superseded_request_id", superseded.requestID))
	}
	if oldPreview != "" {
		u.releasePreview(ctx, oldPreview, requestID)
	}

	opLogger.Info("submitting image",
		zap.Uint64("token", sub.token),
		zap.String("filename", file.Name),
		zap.Int("size", len(file.Data)),
	)
	go u.run(sub, file)
	return sub, nil
}

// Clear resets every field to empty without contacting the classifier.
func (u *ImageUpload) Clear(ctx context.Context) error {
	return u.reset(ctx, "usecase.clear")
}

// Close cancels pending work, releases the preview and ends all subscriptions.
func (u *ImageUpload) Close(ctx context.Context) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	u.token++
	inflight := u.inflight
	oldPreview := preview.IDFromURL(u.state.PreviewURL)
	u.inflight = nil
	u.state = State{}
	for id, ch := range u.subscribers {
		close(ch)
		delete(u.subscribers, id)
	}
	u.mu.Unlock()

	if inflight != nil {
		inflight.Cancel()
	}
	if oldPreview != "" {
		u.releasePreview(ctx, oldPreview, "")
	}
}

func (u *ImageUpload) reset(ctx context.Context, operation string) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.token++
	inflight := u.inflight
	oldPreview := preview.IDFromURL(u.state.PreviewURL)
	u.inflight = nil
	u.state = State{}
	u.notifyLocked()
	u.mu.Unlock()

	if inflight != nil {
		inflight.Cancel()
	}
	if oldPreview != "" {
		u.releasePreview(ctx, oldPreview, "")
	}
	u.logger.Debug("component reset", zap.String("operation", operation))
	return nil
}

func (u *ImageUpload) run(sub *Submission, file *File) {
	defer close(sub.done)
	defer sub.cancel()

	start := time.Now()
	prediction, err := u.classifier.Classify(sub.ctx, sub.requestID, classifier.Upload{
		Filename:    file.Name,
		ContentType: file.ContentType,
		Data:        file.Data,
	})
	u.metrics.observeSubmission(time.Since(start), prediction, err)
	u.complete(sub, prediction, err)
}

// complete applies an outcome if its token is still the newest one.
func (u *ImageUpload) complete(sub *Submission, prediction *classifier.Prediction, err error) {
	opLogger := logging.WithOperation(u.logger, "usecase.complete", sub.requestID)

	u.mu.Lock()
	defer u.mu.Unlock()

	sub.result, sub.err = prediction, err
	if u.closed || sub.token != u.token {
		u.metrics.observeStale()
		opLogger.Info("discarding stale outcome", zap.Uint64("token", sub.token), zap.Uint64("current_token", u.token))
		return
	}

	sub.applied = true
	u.inflight = nil
	u.state.IsLoading = false
	switch {
	case err == nil:
		u.state.Result = resultFrom(prediction)
	case errors.Is(err, context.Canceled):
		u.state.ErrorMessage = CanceledMessage
	default:
		u.state.ErrorMessage = classifier.UserMessage(err)
		opLogger.Warn("submission failed", zap.Error(logging.TagSession(err, "usecase.submit", u.sessionID)))
	}
	u.notifyLocked()
}

func (u *ImageUpload) releasePreview(ctx context.Context, id, requestID string) {
	if err := u.previews.Release(ctx, id); err != nil {
		logging.WithOperation(u.logger, "usecase.release_preview", requestID).Warn("failed to release preview", zap.Error(err), zap.String("preview_id", id))
	}
}

// Snapshot returns a copy of the current state.
func (u *ImageUpload) Snapshot() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.state
	s.Result = resultFrom(u.state.Result)
	return s
}

// View returns the render input for the current state.
func (u *ImageUpload) View() View {
	u.mu.Lock()
	defer u.mu.Unlock()
	return buildView(u.state, u.token, u.benignLabel)
}

// Subscribe delivers the newest View after every state change. Slow readers
// only ever see the latest view. The returned func ends the subscription.
func (u *ImageUpload) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := u.nextSubID
	u.nextSubID++
	u.subscribers[id] = ch
	u.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			if existing, ok := u.subscribers[id]; ok {
				close(existing)
				delete(u.subscribers, id)
			}
		})
	}
}

// notifyLocked must be called with mu held so views are delivered in order.
func (u *ImageUpload) notifyLocked() {
	if len(u.subscribers) == 0 {
		return
	}
	v := buildView(u.state, u.token, u.benignLabel)
	for _, ch := range u.subscribers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
