package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLogin       = "login_attempts"
	MeasurementDoorCommand = "door_commands"
	MeasurementLockout     = "lockout_stats"
)

// LockoutSample is one snapshot of the lockout tracker.
type LockoutSample struct {
	TrackedIPs          int
	BlockedIPs          int
	TotalFailedAttempts int
}

// WriteLogin records one login attempt tagged by outcome. Client addresses
// are deliberately not tags to keep series cardinality bounded.
func (c *Client) WriteLogin(outcome string, at time.Time) {
	c.writePoint(MeasurementLogin,
		map[string]string{"outcome": outcome},
		map[string]any{"count": 1},
		at,
	)
}

// WriteDoorCommand records a command sent to the door controller.
func (c *Client) WriteDoorCommand(command string, success bool, statusCode int, duration time.Duration, at time.Time) {
	c.writePoint(MeasurementDoorCommand,
		map[string]string{
			"command": command,
			"success": strconv.FormatBool(success),
		},
		map[string]any{
			"count":       1,
			"status_code": statusCode,
			"duration_ms": float64(duration.Microseconds()) / 1000,
		},
		at,
	)
}

// WriteLockoutStats records a periodic lockout tracker snapshot.
func (c *Client) WriteLockoutStats(s LockoutSample, at time.Time) {
	c.writePoint(MeasurementLockout,
		nil,
		map[string]any{
			"tracked_ips":           s.TrackedIPs,
			"blocked_ips":           s.BlockedIPs,
			"total_failed_attempts": s.TotalFailedAttempts,
		},
		at,
	)
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(measurement, tags, fields, time.Now())
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
