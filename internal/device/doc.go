// Package device talks to the door controller.
//
// The controller is an ESP32 exposing a single HTTP endpoint that accepts
// command strings. Relay sends commands with a timeout, records the last
// result and fans results out to registered sinks (event bus, telemetry).
package device
