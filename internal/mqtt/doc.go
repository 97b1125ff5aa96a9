// Package mqtt publishes the bed's derived state to Home Assistant
// over MQTT. Sleepside appears as a native HA device with availability
// tracking; each bed side contributes a heating level sensor, a target
// level sensor, a sleep score sensor, and an occupancy binary sensor,
// plus bridge diagnostics (version, uptime).
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each entity and a birth message ("online") to the availability
// topic. A will message ensures the availability topic transitions to
// "offline" on unexpected disconnects.
package mqtt
