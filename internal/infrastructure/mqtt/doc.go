// Package mqtt publishes doorgate events to an MQTT broker.
//
// Door command outcomes, access events and IP lockouts are published under
// a configurable prefix (default "doorgate") so home automation systems can
// react to them. The client keeps a retained status topic with a Last Will,
// reconnects automatically, and never subscribes: doorgate accepts no
// commands over MQTT.
//
// # Topics
//
//	{prefix}/system/status      retained online/offline
//	{prefix}/door/command       command outcome per request
//	{prefix}/door/state         retained last controller state
//	{prefix}/access/{action}    login, logout, register, ...
//	{prefix}/security/lockout   an IP crossed the failure threshold
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().DoorCommand(), result, false)
package mqtt
