// Package mqtt provides MQTT client connectivity for the X10 bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect after startup
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - An on-connect hook, used to re-announce discovery after reconnects
//
// # Concurrency
//
// One Client is shared by the command path (paho callbacks and command
// workers) and the bus monitor loop. All methods are safe for concurrent use.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "x10/stat/bridge/status")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("x10/cmd/+", 1, func(topic string, payload []byte) error {
//	    log.Printf("Received: %s = %s", topic, payload)
//	    return nil
//	})
//
//	client.PublishRetained("x10/stat/a1", []byte("ON"))
package mqtt
