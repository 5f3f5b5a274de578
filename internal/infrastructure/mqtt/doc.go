// Package mqtt provides MQTT client connectivity for the VBox gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) on vitreagw/system/status
//
// The Vitrea bridge publishes device state and health through this client
// and receives device commands from it:
//
//	VBox controller ↔ vitreagw ↔ MQTT broker ↔ home automation consumers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands("vitrea"), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
//
// Unit tests run without a broker; tests tagged "integration" need one at
// 127.0.0.1:1883.
package mqtt
