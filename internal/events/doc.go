// Package events provides the in-process event bus that decouples device
// workers from whatever displays or stores their activity.
//
// Workers, the supervisor and the device registry publish Records. The bus
// keeps the most recent 1000 of them in a ring buffer and forwards each new
// record to every subscriber through that subscriber's own queue, drained on
// its own goroutine. A slow or blocked consumer therefore never stalls the
// publishing worker; when a subscriber's queue is full the notification is
// dropped for that subscriber only and counted.
//
// Consumers in this module:
//   - api.Hub streams records to WebSocket clients
//   - remote.Publisher forwards records to MQTT
//   - history.Archive persists records to SQLite
//
// # Usage
//
//	bus := events.NewBus()
//	defer bus.Close()
//
//	unsubscribe, err := bus.Subscribe(func(r events.Record) {
//	    fmt.Println(r.DeviceLabel, r.Message)
//	})
//	if err != nil {
//	    return err
//	}
//	defer unsubscribe()
//
//	bus.Info("127.0.0.1:16384", "Xiaomi MI 9", "task started")
//	recent := bus.Recent(50)
package events
