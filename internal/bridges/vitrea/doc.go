// Package vitrea bridges a VBox controller to MQTT.
//
// It translates in both directions:
//   - Commands published on vitreagw/command/vitrea/{device} are parsed,
//     turned into VBox ASCII commands and sent through the controller.
//     Every command is acknowledged on vitreagw/ack/vitrea/{device}.
//   - Status events from the controller are published retained on
//     vitreagw/state/vitrea/{device}, recorded to the time-series store
//     and persisted as the device's last known state.
//
// A HealthReporter publishes the bridge and gateway status on
// vitreagw/health/vitrea at a fixed interval.
//
// Device identifiers follow the VBox numbering: "N005-2" is key 2 of
// keypad node 5, "A003" is air conditioner 3, "R0012" is scenario 12,
// "O001" and "I004" are I/O terminals and "C" is room occupancy.
package vitrea
