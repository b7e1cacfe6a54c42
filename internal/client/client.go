// Package client tails the relay's activity feed.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kehao95/repo-dispatch-relay/internal/assertion"
	"github.com/kehao95/repo-dispatch-relay/internal/message"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	ServerURL         string
	Results           []string
	SuccessAssertions []assertion.Rule
	FailureAssertions []assertion.Rule
	Timeout           time.Duration
	// Capture holds every line back until a rule matches or the timeout
	// elapses, then writes them all at once.
	Capture bool
}

// ExitError carries the process exit code the watch command should end with.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit with code %d", e.Code)
}

func (e ExitError) ExitCode() int {
	return e.Code
}

// TimeoutExitCode mirrors timeout(1).
const TimeoutExitCode = 124

const (
	warnCaptureBytes = 100 * 1024 * 1024
	maxCaptureBytes  = 500 * 1024 * 1024
)

var errCaptureFull = errors.New("capture buffer exceeded 500MB")

// output writes outcomes as JSON lines, either as they arrive or, when
// capturing, all at once on flush.
type output struct {
	w        *bufio.Writer
	capture  bool
	buffer   [][]byte
	size     int64
	warnSize int64
	maxSize  int64
	warned   bool
	logger   *zap.SugaredLogger
}

func newOutput(out io.Writer, capture bool, logger *zap.SugaredLogger) *output {
	return &output{
		w:        bufio.NewWriter(out),
		capture:  capture,
		warnSize: warnCaptureBytes,
		maxSize:  maxCaptureBytes,
		logger:   logger,
	}
}

func (o *output) add(data []byte) error {
	if !o.capture {
		return writeLine(o.w, data)
	}
	o.buffer = append(o.buffer, data)
	o.size += int64(len(data))
	if !o.warned && o.size >= o.warnSize {
		o.logger.Warnw("capture buffer is large", "bytes", o.size)
		o.warned = true
	}
	if o.size >= o.maxSize {
		return errCaptureFull
	}
	return nil
}

// flush writes any captured lines. It is a no-op when streaming.
func (o *output) flush() error {
	for _, data := range o.buffer {
		if err := writeLine(o.w, data); err != nil {
			return err
		}
	}
	o.buffer = nil
	return nil
}

// Run connects to the feed, reconnecting with backoff, and writes every
// outcome to out as one JSON line. It returns an ExitError once a rule
// matches or the timeout elapses.
func Run(ctx context.Context, cfg Config, out io.Writer, logger *zap.SugaredLogger) error {
	o := newOutput(out, cfg.Capture, logger)
	err := run(ctx, cfg, o, logger)
	var exitErr ExitError
	if errors.As(err, &exitErr) {
		if flushErr := o.flush(); flushErr != nil {
			return flushErr
		}
	}
	return err
}

func run(ctx context.Context, cfg Config, o *output, logger *zap.SugaredLogger) error {
	backoff := time.Second

	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Infow("connecting", "server", cfg.ServerURL)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.ServerURL, nil)
		if err != nil {
			logger.Warnw("connect failed", "error", err)
			if err := wait(ctx, deadline, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
			continue
		}
		logger.Infow("connected", "server", cfg.ServerURL)
		backoff = time.Second

		if err := sendSubscribe(conn, cfg.Results); err != nil {
			logger.Warnw("subscribe failed", "error", err)
			_ = conn.Close()
			if err := wait(ctx, deadline, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff)
			continue
		}

		err = readLoop(ctx, conn, o, cfg, deadline, logger)
		_ = conn.Close()

		var exitErr ExitError
		if errors.As(err, &exitErr) || errors.Is(err, errCaptureFull) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warnw("disconnected", "error", err)
		if err := wait(ctx, deadline, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, o *output, cfg Config, deadline <-chan time.Time, logger *zap.SugaredLogger) error {
	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}

			var head struct {
				Type    string   `json:"type"`
				Results []string `json:"results"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				logger.Warnw("invalid json from server", "data", string(data))
				continue
			}
			if head.Type == message.SubscribedType {
				logger.Infow("subscribed", "results", head.Results)
				continue
			}

			if err := o.add(data); err != nil {
				done <- err
				return
			}
			if rule, ok := assertion.First(data, cfg.SuccessAssertions); ok {
				done <- ExitError{Code: rule.ExitCode}
				return
			}
			if rule, ok := assertion.First(data, cfg.FailureAssertions); ok {
				done <- ExitError{Code: rule.ExitCode}
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	case <-deadline:
		_ = conn.Close()
		<-done
		return ExitError{Code: TimeoutExitCode}
	}
}

// writeLine writes data as one line, whatever newline the sender framed it with.
func writeLine(w *bufio.Writer, data []byte) error {
	if _, err := w.Write(bytes.TrimRight(data, "\r\n")); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func sendSubscribe(conn *websocket.Conn, results []string) error {
	if results == nil {
		results = []string{}
	}
	return conn.WriteJSON(message.Subscribe{Type: message.SubscribeType, Results: results})
}

func wait(ctx context.Context, deadline <-chan time.Time, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return ExitError{Code: TimeoutExitCode}
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > 30*time.Second {
		return 30 * time.Second
	}
	return next
}
