// Package mqtt publishes daemon events — wake signals, prep-ready
// notifications, hygiene reports — to a local-loopback MQTT broker so a
// desktop host or companion process can subscribe without a direct Go
// dependency. Topics sit under a configurable root ("dailyos" by
// default): dailyos/wake/{poller}, dailyos/prep-ready/{meeting_id},
// dailyos/hygiene/report.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. A will message
// ensures the availability topic transitions to "offline" on unexpected
// disconnects.
package mqtt
