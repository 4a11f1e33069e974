// Package telemetry records handler invocation outcomes.  Reporting is
// best-effort by contract:  no failure here may ever reach the dispatch
// path, and every sink error is swallowed after a debug log.  This is a
// design choice, not an oversight.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kiket-dev/kiket-go-sdk/pkg/consts"
	"github.com/kiket-dev/kiket-go-sdk/pkg/logger"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Outcome is one invocation's telemetry record.
type Outcome struct {
	Event      string         `json:"event"`
	Version    string         `json:"version"`
	Status     string         `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
	Extension  string         `json:"extension,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorType  string         `json:"error_type,omitempty"`
	Extras     map[string]any `json:"extras,omitempty"`
}

// Callback is a local feedback sink invoked with each outcome.  Panics and
// errors inside the callback are contained by the reporter.
type Callback func(Outcome)

type Options struct {
	// Enabled gates all reporting.  The DO_NOT_TRACK environment variable
	// overrides it off.
	Enabled bool
	// URL is the remote telemetry base URL;  empty disables the remote sink.
	URL string
	// Callback is the local sink;  nil disables it.
	Callback Callback
	// Extension is the reporting extension's identity string.
	Extension string

	Client *http.Client
	Logger logger.Logger
}

type Reporter struct {
	opts   Options
	client *http.Client
	log    logger.Logger
	wg     sync.WaitGroup
}

func NewReporter(o Options) *Reporter {
	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: consts.TelemetryTimeout}
	}
	log := o.Logger
	if log == nil {
		log = logger.From(context.Background())
	}
	return &Reporter{opts: o, client: client, log: log}
}

// Disabled returns whether telemetry is off, either by configuration or by
// the environment opt-out.
func (r *Reporter) Disabled() bool {
	if os.Getenv("DO_NOT_TRACK") != "" {
		return true
	}
	return !r.opts.Enabled
}

// Record sends the outcome to every configured sink without blocking the
// caller.  It never returns an error and never panics.
func (r *Reporter) Record(ctx context.Context, out Outcome) {
	if r.Disabled() {
		return
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	if out.Extension == "" {
		out.Extension = r.opts.Extension
	}

	// The record must outlive the request that produced it.
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.send(ctx, out)
	}()
}

// Wait blocks until in-flight sends drain.  Used by tests and shutdown.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

// send runs both sinks independently;  one failing must not suppress the
// other.
func (r *Reporter) send(ctx context.Context, out Outcome) {
	var result *multierror.Error

	if r.opts.Callback != nil {
		if err := r.invokeCallback(out); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if r.opts.URL != "" {
		if err := r.post(ctx, out); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		r.log.Debug("telemetry delivery failed", "error", err, "event", out.Event)
	}
}

func (r *Reporter) invokeCallback(out Outcome) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("telemetry callback panicked: %v", rec)
		}
	}()
	r.opts.Callback(out)
	return nil
}

func (r *Reporter) post(ctx context.Context, out Outcome) error {
	byt, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("could not marshal outcome: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, consts.TelemetryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.URL+"/telemetry", bytes.NewReader(byt))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telemetry endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
