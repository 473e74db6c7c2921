// Package link connects the command dispatcher and telemetry publisher to
// the outside world.
//
//   - [MQTT]: commands from a broker topic, acks and telemetry back out
//   - [Server]: websocket endpoints for commands and telemetry streaming
//
// Transports only decode and forward. Every event ends up on the single
// dispatcher channel; nothing here touches the craft state directly.
package link
