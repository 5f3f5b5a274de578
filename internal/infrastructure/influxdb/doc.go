// Package influxdb records the VBox status history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every device status
// event becomes a point in the vitrea_state measurement, tagged with the
// device ID and event kind; session transitions go to vitrea_connection.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("N005-2", "node_status", map[string]any{"on": true}, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous failures reach the SetOnError callback.
package influxdb
