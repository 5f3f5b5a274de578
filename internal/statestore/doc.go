// Package statestore keeps the last known state of every VBox device in a
// bbolt file so it survives restarts.
//
// The bridge writes one record per status event and replays the stored
// records to MQTT on start, before the gateway has been polled. Records
// are JSON encoded and keyed by device ID ("N005-2", "A003", "R0012").
package statestore
