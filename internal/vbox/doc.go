// Package vbox implements the client side of the Vitrea VBox gateway protocol.
//
// A VBox speaks two wire formats over one TCP stream:
//
//   - ASCII lines terminated by CRLF, used for authentication, keep-alive,
//     device commands and the asynchronous status push events.
//   - Binary "VTH" parameter frames, used to read the gateway's object
//     database (floors, rooms, keypads, keys, air conditioners, scenarios).
//
// # Architecture
//
// The package is layered leaf-first:
//
//	frame.go       VTH framing, checksum, ASCII line splitting, frame detection
//	response.go    ASCII line → Event parsing (closed EventKind set)
//	params.go      VTH payload → catalog records and follow-up requests
//	commands.go    validated outbound ASCII commands
//	catalog.go     discovered object database and its nested snapshot
//	connection.go  socket ownership, send/receive/monitor loops, reconnect
//	reader.go      single-flight sequential database discovery
//	controller.go  session coordinator: dispatch, subscriptions, watchdog
//	probe.go       one-shot availability and firmware check
//
// # Concurrency
//
// The Connection owns the socket. Exactly one goroutine writes to it (the
// send loop, fed through a FIFO channel) and exactly one reads from it (the
// receive loop). The Reader never touches the socket; it is given a write
// function and fed frames by the Controller.
//
// # Usage
//
//	ctrl := vbox.NewController(vbox.ControllerConfig{
//	    Connection: vbox.ConnectionConfig{Host: "192.168.1.23", Port: 11501},
//	}, vbox.ControllerOptions{Logger: logger})
//
//	if err := ctrl.Connect(ctx, vbox.ConnectOptions{Watchdog: true}); err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	id := ctrl.Subscribe(vbox.SubscriptionFilter{DeviceID: "N005-2"}, func(ev vbox.Event) {
//	    fmt.Println(ev.Kind, ev.On)
//	})
//	defer ctrl.Unsubscribe(id)
//
//	cmd, _ := vbox.ToggleOn(5, 2, 0)
//	ctrl.Send(cmd)
package vbox
