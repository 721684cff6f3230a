package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/cellscan/internal/classifier"
	"github.com/example/cellscan/internal/preview"
)

type stubClassifier struct {
	mu      sync.Mutex
	uploads []classifier.Upload
	respond func(ctx context.Context, call int) (*classifier.Prediction, error)
}

func (s *stubClassifier) Classify(ctx context.Context, requestID string, upload classifier.Upload) (*classifier.Prediction, error) {
	s.mu.Lock()
	call := len(s.uploads)
	s.uploads = append(s.uploads, upload)
	s.mu.Unlock()
	return s.respond(ctx, call)
}

func (s *stubClassifier) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func respondWith(p *classifier.Prediction, err error) func(context.Context, int) (*classifier.Prediction, error) {
	return func(context.Context, int) (*classifier.Prediction, error) { return p, err }
}

// gatedResponder blocks call i until gates[i] is closed or ctx ends.
func gatedResponder(gates []chan struct{}, results []*classifier.Prediction) func(context.Context, int) (*classifier.Prediction, error) {
	return func(ctx context.Context, call int) (*classifier.Prediction, error) {
		select {
		case <-gates[call]:
			return results[call], nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func newTestUpload(t *testing.T, client classifier.Client) (*ImageUpload, *preview.MemoryStore, *Metrics) {
	t.Helper()
	store := preview.NewMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewImageUpload(client, store, metrics, zap.NewNop(), Options{BenignLabel: "Benign"}), store, metrics
}

func testFile(name string) *File {
	return &File{Name: name, ContentType: "image/png", Data: []byte("not-really-a-png-" + name)}
}

func waitFor(t *testing.T, sub *Submission) (*classifier.Prediction, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := sub.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("submission did not finish in time")
	}
	return p, err
}

func TestSelectBenignShowsNegativeVerdict(t *testing.T) {
	client := &stubClassifier{respond: respondWith(&classifier.Prediction{Class: "Benign", Confidence: 0.95}, nil)}
	uc, _, _ := newTestUpload(t, client)

	sub, err := uc.Select(context.Background(), testFile("cell.png"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if _, err := waitFor(t, sub); err != nil {
		t.Fatalf("unexpected submission error: %v", err)
	}

	view := uc.View()
	if view.Panel != PanelResult {
		t.Fatalf("expected result panel, got %s", view.Panel)
	}
	if view.Label != "Benign" || view.Confidence != "95.00" {
		t.Fatalf("unexpected label/confidence: %q %q", view.Label, view.Confidence)
	}
	if view.Verdict != "No leukemia detected." || view.Tone != ToneSuccess {
		t.Fatalf("unexpected verdict: %q (%s)", view.Verdict, view.Tone)
	}
	if client.calls() != 1 {
		t.Fatalf("expected exactly one submission, got %d", client.calls())
	}
	if got := string(client.uploads[0].Data); got != "not-really-a-png-cell.png" {
		t.Fatalf("classifier received %q", got)
	}
}

func TestSelectPositiveShowsFailureVerdict(t *testing.T) {
	client := &stubClassifier{respond: respondWith(&classifier.Prediction{Class: "ALL", Confidence: 0.81}, nil)}
	uc, _, _ := newTestUpload(t, client)

	sub, err := uc.Select(context.Background(), testFile("cell.png"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	waitFor(t, sub)

	view := uc.View()
	if view.Verdict != "Leukemia detected: ALL" || view.Tone != ToneFailure {
		t.Fatalf("unexpected verdict: %q (%s)", view.Verdict, view.Tone)
	}
	if view.Confidence != "81.00" {
		t.Fatalf("unexpected confidence %q", view.Confidence)
	}
}

func TestSelectStatusErrorShowsCode(t *testing.T) {
	client := &stubClassifier{respond: respondWith(nil, &classifier.StatusError{StatusCode: http.StatusInternalServerError})}
	uc, _, metrics := newTestUpload(t, client)

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	if _, err := waitFor(t, sub); err == nil {
		t.Fatal("expected submission error")
	}

	state := uc.Snapshot()
	if state.IsLoading {
		t.Fatal("expected loading flag to be cleared")
	}
	if !strings.Contains(state.ErrorMessage, "500") {
		t.Fatalf("expected status code in message, got %q", state.ErrorMessage)
	}
	if uc.View().Panel != PanelError {
		t.Fatalf("expected error panel, got %s", uc.View().Panel)
	}
	if summary := metrics.Summary(); summary.FailedRequests != 1 || summary.TotalRequests != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSelectTransportErrorShowsGenericMessage(t *testing.T) {
	client := &stubClassifier{respond: respondWith(nil, errors.New("dial tcp: connection refused"))}
	uc, _, _ := newTestUpload(t, client)

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	waitFor(t, sub)

	state := uc.Snapshot()
	if state.IsLoading {
		t.Fatal("expected loading flag to be cleared")
	}
	if state.ErrorMessage != classifier.GenericFailureMessage {
		t.Fatalf("unexpected message %q", state.ErrorMessage)
	}
}

func TestSubmissionFailureLogsSession(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	client := &stubClassifier{respond: respondWith(nil, errors.New("dial tcp: connection refused"))}
	uc := NewImageUpload(client, preview.NewMemoryStore(), nil, zap.New(core), Options{SessionID: "sess-42"})

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	waitFor(t, sub)

	entries := logs.FilterMessage("submission failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	logged, _ := entries[0].ContextMap()["error"].(string)
	if !strings.Contains(logged, "session_id=sess-42") || !strings.Contains(logged, "connection refused") {
		t.Fatalf("expected session context in logged error, got %q", logged)
	}
}

func TestSelectIsLoadingUntilResponse(t *testing.T) {
	gates := []chan struct{}{make(chan struct{})}
	client := &stubClassifier{respond: gatedResponder(gates, []*classifier.Prediction{{Class: "Benign", Confidence: 0.5}})}
	uc, _, _ := newTestUpload(t, client)

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	view := uc.View()
	if view.Panel != PanelLoading {
		t.Fatalf("expected loading panel, got %s", view.Panel)
	}
	if view.PreviewURL == "" {
		t.Fatal("expected a preview reference while loading")
	}

	close(gates[0])
	waitFor(t, sub)
	if uc.View().Panel != PanelResult {
		t.Fatalf("expected result panel, got %s", uc.View().Panel)
	}
}

func TestNewerSelectionWins(t *testing.T) {
	gates := []chan struct{}{make(chan struct{}), make(chan struct{})}
	results := []*classifier.Prediction{{Class: "ALL", Confidence: 0.9}, {Class: "Benign", Confidence: 0.7}}
	client := &stubClassifier{respond: gatedResponder(gates, results)}
	uc, store, metrics := newTestUpload(t, client)

	first, _ := uc.Select(context.Background(), testFile("first.png"))
	firstPreview := uc.Snapshot().PreviewURL
	second, _ := uc.Select(context.Background(), testFile("second.png"))

	if second.Token() <= first.Token() {
		t.Fatalf("expected increasing tokens, got %d then %d", first.Token(), second.Token())
	}
	if _, err := waitFor(t, first); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected first submission to be superseded, got %v", err)
	}
	if uc.View().Panel != PanelLoading {
		t.Fatalf("expected still loading for the newer selection, got %s", uc.View().Panel)
	}
	if _, err := store.Get(context.Background(), preview.IDFromURL(firstPreview)); !errors.Is(err, preview.ErrNotFound) {
		t.Fatalf("expected superseded preview to be released, got %v", err)
	}

	close(gates[1])
	waitFor(t, second)
	close(gates[0])

	view := uc.View()
	if view.Panel != PanelResult || view.Label != "Benign" || view.FileName != "second.png" {
		t.Fatalf("expected newest result, got %+v", view)
	}
	if store.Len() != 1 {
		t.Fatalf("expected only the current preview to be held, got %d", store.Len())
	}
	summary := metrics.Summary()
	if summary.StaleResults != 1 {
		t.Fatalf("expected one stale result, got %d", summary.StaleResults)
	}
	if summary.CanceledRequests != 1 || summary.FailedRequests != 0 || summary.SuccessRate != 1 {
		t.Fatalf("expected the superseded submission to be counted as canceled only, got %+v", summary)
	}
}

func TestClearResetsStateWithoutSubmitting(t *testing.T) {
	client := &stubClassifier{respond: respondWith(&classifier.Prediction{Class: "Benign", Confidence: 0.95}, nil)}
	uc, store, _ := newTestUpload(t, client)

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	waitFor(t, sub)

	if err := uc.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	state := uc.Snapshot()
	if state.File != nil || state.PreviewURL != "" || state.HasImage || state.IsLoading || state.Result != nil || state.ErrorMessage != "" {
		t.Fatalf("expected empty state, got %+v", state)
	}
	if uc.View().Panel != PanelUpload {
		t.Fatalf("expected upload panel, got %s", uc.View().Panel)
	}
	if client.calls() != 1 {
		t.Fatalf("clear must not submit, got %d calls", client.calls())
	}
	if store.Len() != 0 {
		t.Fatalf("expected preview released, %d held", store.Len())
	}
}

func TestClearDiscardsInFlightOutcome(t *testing.T) {
	gates := []chan struct{}{make(chan struct{})}
	client := &stubClassifier{respond: gatedResponder(gates, []*classifier.Prediction{{Class: "ALL", Confidence: 0.9}})}
	uc, _, _ := newTestUpload(t, client)

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	if err := uc.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := waitFor(t, sub); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected superseded, got %v", err)
	}
	if uc.View().Panel != PanelUpload {
		t.Fatalf("expected upload panel after clear, got %s", uc.View().Panel)
	}
}

func TestSelectNilResets(t *testing.T) {
	client := &stubClassifier{respond: respondWith(&classifier.Prediction{Class: "ALL", Confidence: 0.5}, nil)}
	uc, _, _ := newTestUpload(t, client)

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	waitFor(t, sub)

	next, err := uc.Select(context.Background(), nil)
	if err != nil || next != nil {
		t.Fatalf("expected nil submission and no error, got %v, %v", next, err)
	}
	if uc.Snapshot().HasImage {
		t.Fatal("expected HasImage to be false")
	}
	if client.calls() != 1 {
		t.Fatalf("empty selection must not submit, got %d calls", client.calls())
	}
}

func TestCancelVisibleSubmissionShowsMessage(t *testing.T) {
	gates := []chan struct{}{make(chan struct{})}
	client := &stubClassifier{respond: gatedResponder(gates, []*classifier.Prediction{nil})}
	uc, _, _ := newTestUpload(t, client)

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	sub.Cancel()
	if _, err := waitFor(t, sub); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	state := uc.Snapshot()
	if state.IsLoading || state.ErrorMessage != CanceledMessage {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestSubscribeReceivesLatestView(t *testing.T) {
	gates := []chan struct{}{make(chan struct{})}
	client := &stubClassifier{respond: gatedResponder(gates, []*classifier.Prediction{{Class: "Benign", Confidence: 0.8734}})}
	uc, _, _ := newTestUpload(t, client)

	updates, unsubscribe := uc.Subscribe()
	defer unsubscribe()

	sub, _ := uc.Select(context.Background(), testFile("cell.png"))
	if v := <-updates; v.Panel != PanelLoading {
		t.Fatalf("expected loading view first, got %s", v.Panel)
	}
	close(gates[0])
	waitFor(t, sub)

	select {
	case v := <-updates:
		if v.Panel != PanelResult || v.Confidence != "87.34" {
			t.Fatalf("unexpected view %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no update after completion")
	}
}

func TestCloseEndsSubscriptionsAndRejectsSelect(t *testing.T) {
	client := &stubClassifier{respond: respondWith(&classifier.Prediction{Class: "Benign"}, nil)}
	uc, store, _ := newTestUpload(t, client)

	updates, _ := uc.Subscribe()
	uc.Close(context.Background())

	if _, ok := <-updates; ok {
		t.Fatal("expected subscription channel to be closed")
	}
	if _, err := uc.Select(context.Background(), testFile("late.png")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected rejected preview to be released, %d held", store.Len())
	}
}

type failingStore struct{ preview.Store }

func (failingStore) Put(ctx context.Context, img preview.Image) (string, error) {
	return "", errors.New("store down")
}

func TestSelectPreviewFailureLeavesStateUntouched(t *testing.T) {
	client := &stubClassifier{respond: respondWith(&classifier.Prediction{Class: "Benign"}, nil)}
	uc := NewImageUpload(client, failingStore{}, nil, zap.NewNop(), Options{})

	if _, err := uc.Select(context.Background(), testFile("cell.png")); err == nil {
		t.Fatal("expected error")
	}
	if uc.View().Panel != PanelUpload || client.calls() != 0 {
		t.Fatalf("expected untouched state and no submission")
	}
}
