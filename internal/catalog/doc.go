// Package catalog persists the VBox object catalog in SQLite.
//
// The catalog is written after every successful discovery and read back at
// startup, so a restart with gateway.skip_discovery set can serve snapshots
// and resolve device names without reading the controller's database again.
package catalog
