// Package relay turns GitHub repository creation webhooks into repository
// dispatch calls.
package relay

//go:generate go run go.uber.org/mock/mockgen -destination dispatcher_mock.gen.go -package relay . Dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v45/github"
	"github.com/kehao95/repo-dispatch-relay/internal/config"
	"github.com/kehao95/repo-dispatch-relay/internal/message"
	"github.com/kehao95/repo-dispatch-relay/internal/metrics"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// repositoryEvent is the X-GitHub-Event value of repository webhooks.
const repositoryEvent = "repository"

// IgnoredBody is written for deliveries that are not repository creations.
const IgnoredBody = "Event ignored (not a creation)"

// Dispatcher issues one repository dispatch for an organization.
type Dispatcher interface {
	Dispatch(ctx context.Context, organization string, req DispatchRequest) error
}

// Response is the JSON body of every non-405, non-ignored reply.
type Response struct {
	Success    bool   `json:"success"`
	Repository string `json:"repository,omitempty"`
	Creator    string `json:"creator,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Handler is the webhook endpoint. It keeps no state between requests.
type Handler struct {
	secret       string
	maxBodyBytes int64
	dispatcher   Dispatcher
	logger       *zap.SugaredLogger
	scope        tally.Scope
	publish      func(message.Outcome)
	now          func() time.Time

	warnUnsignedOnce sync.Once
}

type Option func(*Handler)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithScope(scope tally.Scope) Option {
	return func(h *Handler) { h.scope = scope }
}

// WithPublisher registers a callback receiving one Outcome per request. It
// must not block.
func WithPublisher(publish func(message.Outcome)) Option {
	return func(h *Handler) { h.publish = publish }
}

func withClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New returns a Handler using the secret and body limit from cfg.
func New(cfg config.Config, dispatcher Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		secret:       cfg.WebhookSecret,
		maxBodyBytes: cfg.MaxBodyBytes,
		dispatcher:   dispatcher,
		logger:       zap.NewNop().Sugar(),
		scope:        tally.NoopScope,
		publish:      func(message.Outcome) {},
		now:          time.Now,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = config.DefaultMaxBodyBytes
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := message.Outcome{
		Type:       message.OutcomeType,
		DeliveryID: github.DeliveryID(r),
		Event:      github.WebHookType(r),
	}
	logger := h.logger.With("delivery_id", out.DeliveryID, "event", out.Event)
	h.scope.Counter(metrics.WebhookReceived).Inc(1)

	if r.Method != http.MethodPost {
		logger.Debugw("method not allowed", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		h.record(out, message.ResultRejected, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		logger.Warnw("failed to read body", "error", err)
		h.fail(w, out, message.ResultRejected, http.StatusBadRequest, "failed to read body")
		return
	}

	skipped, err := verifySignature(body, r.Header.Get(signatureHeader), h.secret)
	if skipped {
		h.warnUnsignedOnce.Do(func() {
			logger.Warnf("webhook signature verification disabled: %s is not set", config.WebhookSecretEnv)
		})
	}
	if err != nil {
		logger.Warnw("webhook signature verification failed", "error", err)
		h.fail(w, out, message.ResultRejected, http.StatusUnauthorized, "unauthorized")
		return
	}

	if out.Event != "" && out.Event != repositoryEvent {
		logger.Debug("ignoring non-repository event")
		h.ignore(w, out)
		return
	}

	action, err := ParseAction(body)
	if err != nil {
		logger.Warnw("malformed webhook body", "error", err)
		h.fail(w, out, message.ResultRejected, http.StatusBadRequest, err.Error())
		return
	}
	out.Action = action

	if action != ActionCreated {
		logger.Debugw("ignoring repository event", "action", action)
		if ev, err := ParseInboundEvent(body); err == nil {
			out = describe(out, ev)
		}
		h.ignore(w, out)
		return
	}

	ev, err := ParseInboundEvent(body)
	if err != nil {
		logger.Warnw("malformed creation event", "error", err)
		h.fail(w, out, message.ResultRejected, http.StatusBadRequest, err.Error())
		return
	}
	out = describe(out, ev)
	if err := ev.Validate(); err != nil {
		logger.Warnw("incomplete creation event", "error", err)
		h.fail(w, out, message.ResultRejected, http.StatusBadRequest, err.Error())
		return
	}

	logger = logger.With("repository", ev.Repository.Name, "creator", ev.Sender.Login)
	logger.Infof("repository created: %s by %s", ev.Repository.Name, ev.Sender.Login)

	start := h.now()
	err = h.dispatcher.Dispatch(r.Context(), ev.Organization.Login, NewDispatchRequest(ev))
	h.scope.Timer(metrics.DispatchLatency).Record(h.now().Sub(start))
	if err != nil {
		logger.Errorf("failed to trigger workflow: %s", err)
		h.fail(w, out, message.ResultFailed, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Infof("workflow triggered for %s", ev.Repository.Name)
	writeJSON(w, http.StatusOK, Response{
		Success:    true,
		Repository: ev.Repository.Name,
		Creator:    ev.Sender.Login,
	})
	h.record(out, message.ResultDispatched, http.StatusOK, "")
}

func describe(out message.Outcome, ev InboundEvent) message.Outcome {
	out.Organization = ev.Organization.Login
	out.Repository = ev.Repository.Name
	out.Creator = ev.Sender.Login
	return out
}

func (h *Handler) ignore(w http.ResponseWriter, out message.Outcome) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, IgnoredBody)
	h.record(out, message.ResultIgnored, http.StatusOK, "")
}

func (h *Handler) fail(w http.ResponseWriter, out message.Outcome, result string, status int, errText string) {
	writeJSON(w, status, Response{Success: false, Error: errText})
	h.record(out, result, status, errText)
}

func (h *Handler) record(out message.Outcome, result string, status int, errText string) {
	out.Result = result
	out.Status = status
	out.Error = errText
	out.At = h.now().UTC()
	h.scope.Counter(metrics.Result(result)).Inc(1)
	h.publish(out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
