package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode"
)

// Commands understood by the door controller firmware.
const (
	CommandOpenDoor       = "ABRIR_PUERTA"
	CommandCloseDoor      = "CERRAR_PUERTA"
	CommandTestConnection = "TEST_CONNECTION"
)

// DefaultTimeout bounds a single command round trip.
const DefaultTimeout = 5 * time.Second

// maxCommandLength caps custom command strings.
const maxCommandLength = 64

// maxResponseBody is how much of the controller's reply is kept.
const maxResponseBody = 256

// Logger defines the logging interface used by the Relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config locates the controller.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// CommandResult describes one command round trip.
type CommandResult struct {
	Command    string        `json:"command"`
	Actor      string        `json:"actor,omitempty"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Response   string        `json:"response,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	At         time.Time     `json:"at"`
}

// Status is the relay's view of the controller.
type Status struct {
	Address     string         `json:"address"`
	Reachable   bool           `json:"reachable"`
	LastCommand *CommandResult `json:"last_command,omitempty"`
}

// ResultSink receives every command result after it completes.
type ResultSink interface {
	RecordCommand(ctx context.Context, result CommandResult)
}

// Relay forwards commands to the door controller over HTTP:
//
//	GET http://{host}:{port}/comando?cmd={command}
//
// A command succeeds only on HTTP 200. Each call is bounded by the
// configured timeout and is never retried.
//
// All public methods are thread-safe.
type Relay struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  Logger
	now     func() time.Time

	mu    sync.RWMutex
	last  *CommandResult
	sinks []ResultSink
}

// NewRelay creates a Relay for the controller at cfg.Host:cfg.Port.
func NewRelay(cfg Config) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Relay{
		cfg:     cfg,
		baseURL: "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// AddSink registers a receiver for command results.
func (r *Relay) AddSink(s ResultSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Address returns host:port of the controller.
func (r *Relay) Address() string {
	return net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
}

// SendCommand forwards cmd and reports whether the controller accepted it.
func (r *Relay) SendCommand(ctx context.Context, cmd string) bool {
	res, err := r.Execute(ctx, cmd, "")
	return err == nil && res.Success
}

// Execute forwards cmd on behalf of actor and returns the full result.
// The error is non-nil only when cmd is rejected before sending; transport
// and controller failures are reported in the result.
func (r *Relay) Execute(ctx context.Context, cmd, actor string) (CommandResult, error) {
	if err := ValidateCommand(cmd); err != nil {
		return CommandResult{}, err
	}

	start := r.now()
	res := CommandResult{Command: cmd, Actor: actor, At: start.UTC()}

	status, body, err := r.do(ctx, cmd)
	res.Duration = r.now().Sub(start)
	res.StatusCode = status
	res.Response = body

	switch {
	case err != nil:
		res.Error = err.Error()
		r.logger.Warn("door controller request failed", "command", cmd, "address", r.Address(), "error", err)
	case status != http.StatusOK:
		res.Error = fmt.Sprintf("controller returned HTTP %d", status)
		r.logger.Warn("door controller rejected command", "command", cmd, "status", status)
	default:
		res.Success = true
		r.logger.Info("door command delivered", "command", cmd, "actor", actor, "duration", res.Duration)
	}

	r.mu.Lock()
	last := res
	r.last = &last
	sinks := append([]ResultSink(nil), r.sinks...)
	r.mu.Unlock()

	for _, s := range sinks {
		s.RecordCommand(ctx, res)
	}
	return res, nil
}

func (r *Relay) do(ctx context.Context, cmd string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	target := r.baseURL + "/comando?" + url.Values{"cmd": {cmd}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, "", fmt.Errorf("building request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck // body is informational
	return resp.StatusCode, string(body), nil
}

// Ping checks that the controller accepts TCP connections within the timeout.
func (r *Relay) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", r.Address())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	conn.Close() //nolint:errcheck // connect check only
	return nil
}

// Status checks the controller and reports the last command sent.
func (r *Relay) Status(ctx context.Context) Status {
	st := Status{Address: r.Address(), Reachable: r.Ping(ctx) == nil}

	r.mu.RLock()
	if r.last != nil {
		last := *r.last
		st.LastCommand = &last
	}
	r.mu.RUnlock()
	return st
}

// LastCommand returns the most recent result, if any.
func (r *Relay) LastCommand() (CommandResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return CommandResult{}, false
	}
	return *r.last, true
}

// ValidateCommand rejects empty, oversized or non-printable commands.
func ValidateCommand(cmd string) error {
	if cmd == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	if len(cmd) > maxCommandLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidCommand, maxCommandLength)
	}
	for _, c := range cmd {
		if !unicode.IsPrint(c) {
			return fmt.Errorf("%w: contains non-printable characters", ErrInvalidCommand)
		}
	}
	return nil
}
