package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/doorgate/internal/audit"
	"github.com/nerrad567/doorgate/internal/auth"
	"github.com/nerrad567/doorgate/internal/device"
	"github.com/nerrad567/doorgate/internal/infrastructure/influxdb"
	"github.com/nerrad567/doorgate/internal/infrastructure/mqtt"
)

// Publisher is the subset of the MQTT client used for events.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// Telemetry is the subset of the InfluxDB client used for events.
type Telemetry interface {
	WriteLogin(outcome string, at time.Time)
	WriteDoorCommand(command string, success bool, statusCode int, duration time.Duration, at time.Time)
	WriteLockoutStats(s influxdb.LockoutSample, at time.Time)
}

// AccessRecorder queues access log entries.
type AccessRecorder interface {
	Record(entry *audit.AccessLog)
}

// DefaultPublishQueueSize is the number of MQTT events queued before new
// ones are dropped.
const DefaultPublishQueueSize = 256

// Dispatcher fans doorgate events out to the access log, MQTT and
// InfluxDB. Every destination is optional; a nil Dispatcher is a no-op.
//
// No method blocks on I/O. Access entries go to the access log queue,
// InfluxDB points to the client's batching writer, and MQTT messages to a
// bounded queue drained by one goroutine. Close flushes the MQTT queue.
type Dispatcher struct {
	access    AccessRecorder
	publisher Publisher
	telemetry Telemetry
	logger    *slog.Logger
	now       func() time.Time

	queueSize int
	queue     chan publication
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// publication is one queued MQTT message.
type publication struct {
	topic    string
	payload  any
	retained bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAccessLog records access events in the access log.
func WithAccessLog(r AccessRecorder) Option {
	return func(d *Dispatcher) { d.access = r }
}

// WithPublisher publishes events to MQTT.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithPublishQueueSize sets the MQTT queue capacity.
func WithPublishQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

// WithTelemetry writes events to InfluxDB.
func WithTelemetry(t Telemetry) Option {
	return func(d *Dispatcher) { d.telemetry = t }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		logger:    logger,
		now:       time.Now,
		queueSize: DefaultPublishQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.publisher != nil {
		if d.queueSize <= 0 {
			d.queueSize = DefaultPublishQueueSize
		}
		d.queue = make(chan publication, d.queueSize)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.drain()
		}()
	}
	return d
}

// Close stops accepting MQTT events, publishes whatever is still queued
// and waits for the publishing goroutine to exit.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

// accessEvent is the MQTT payload for an access log entry. The user agent
// is left out.
type accessEvent struct {
	Username  string         `json:"username,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result"`
	ClientIP  string         `json:"client_ip,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Access records an access event and publishes it.
func (d *Dispatcher) Access(entry *audit.AccessLog) {
	if d == nil || entry == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = d.now().UTC()
	}
	if d.access != nil {
		d.access.Record(entry)
	}
	if d.publisher != nil {
		d.publish(d.publisher.Topics().Access(entry.Action), accessEvent{
			Username:  entry.Username,
			Action:    entry.Action,
			Result:    entry.Result,
			ClientIP:  entry.ClientIP,
			Details:   entry.Details,
			Timestamp: entry.CreatedAt,
		}, false)
	}
}

// Login records a login attempt: access log, MQTT and the outcome counter.
func (d *Dispatcher) Login(outcome auth.Outcome, entry *audit.AccessLog) {
	if d == nil || entry == nil {
		return
	}
	entry.Action = audit.ActionLogin
	entry.Result = audit.ResultFailure
	if outcome == auth.OutcomeSuccess {
		entry.Result = audit.ResultSuccess
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	entry.Details["outcome"] = string(outcome)

	d.Access(entry)
	if d.telemetry != nil {
		d.telemetry.WriteLogin(string(outcome), entry.CreatedAt)
	}
}

// RecordCommand implements device.ResultSink.
func (d *Dispatcher) RecordCommand(_ context.Context, result device.CommandResult) {
	if d == nil {
		return
	}
	if d.publisher != nil {
		topics := d.publisher.Topics()
		d.publish(topics.DoorCommand(), result, false)
		d.publish(topics.DoorState(), result, true)
	}
	if d.telemetry != nil {
		d.telemetry.WriteDoorCommand(result.Command, result.Success, result.StatusCode, result.Duration, result.At)
	}
}

// lockoutEvent is the MQTT payload published when an address is blocked.
type lockoutEvent struct {
	IP           string    `json:"ip"`
	BlockedUntil time.Time `json:"blocked_until"`
	Timestamp    time.Time `json:"timestamp"`
}

// Blocked is the LockoutTracker callback for an address crossing the
// failure threshold.
func (d *Dispatcher) Blocked(ip string, until time.Time) {
	if d == nil {
		return
	}
	d.logger.Warn("client address blocked", "ip", ip, "until", until)
	if d.publisher != nil {
		d.publish(d.publisher.Topics().Lockout(), lockoutEvent{
			IP:           ip,
			BlockedUntil: until,
			Timestamp:    d.now().UTC(),
		}, false)
	}
}

// LockoutStats writes a tracker snapshot to InfluxDB.
func (d *Dispatcher) LockoutStats(stats auth.LockoutStats) {
	if d == nil || d.telemetry == nil {
		return
	}
	d.telemetry.WriteLockoutStats(influxdb.LockoutSample{
		TrackedIPs:          stats.TrackedIPs,
		BlockedIPs:          stats.BlockedIPs,
		TotalFailedAttempts: stats.TotalFailedAttempts,
	}, d.now())
}

// publish queues a message for the drain goroutine. It never blocks; a
// full queue drops the message.
func (d *Dispatcher) publish(topic string, v any, retained bool) {
	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- publication{topic: topic, payload: v, retained: retained}:
	default:
		d.logger.Warn("mqtt event queue full, dropping event", "topic", topic)
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case p := <-d.queue:
			d.send(p)
		case <-d.done:
			for {
				select {
				case p := <-d.queue:
					d.send(p)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) send(p publication) {
	if err := d.publisher.PublishJSON(p.topic, p.payload, p.retained); err != nil {
		d.logger.Debug("mqtt event not published", "topic", p.topic, "error", err)
	}
}
