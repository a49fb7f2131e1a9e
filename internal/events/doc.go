// Package events routes doorgate events to their destinations: the access
// log, MQTT and InfluxDB. Handlers and the door relay report to a single
// Dispatcher and stay unaware of which destinations are enabled.
package events
