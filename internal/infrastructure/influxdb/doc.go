// Package influxdb writes X10 switch-state telemetry to InfluxDB v2.
//
// Every state the bridge publishes (from the powerline monitor or from an
// executed command) can also be written as a point, giving a history of
// when each unit was switched and by whom. The bridge does not read it back.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSwitchState("A1", true, "bus")
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; write errors are
// delivered to the SetOnError callback.
package influxdb
