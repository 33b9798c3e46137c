package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementSwitchState = "x10_switch_state"
	measurementBridgeStats = "x10_bridge_stats"
)

// WriteSwitchState records one observed or commanded switch state.
//
// Tags are the housecode, its letter, and the source ("bus" or "command").
// The on field is 1 or 0 so it can be graphed as a step series.
//
// Example:
//
//	client.WriteSwitchState("A1", true, "bus")
func (c *Client) WriteSwitchState(housecode string, on bool, source string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(switchStatePoint(housecode, on, source, time.Now()))
}

// WriteBridgeStats records the bridge's cumulative counters.
func (c *Client) WriteBridgeStats(gatewayID string, counters map[string]int64) {
	if !c.IsConnected() || len(counters) == 0 {
		return
	}
	c.writeAPI.WritePoint(bridgeStatsPoint(gatewayID, counters, time.Now()))
}

func switchStatePoint(housecode string, on bool, source string, ts time.Time) *write.Point {
	value := 0
	if on {
		value = 1
	}

	tags := map[string]string{
		"housecode": housecode,
		"source":    source,
	}
	if housecode != "" {
		tags["house"] = housecode[:1]
	}

	return write.NewPoint(
		measurementSwitchState,
		tags,
		map[string]interface{}{
			"on": value,
		},
		ts,
	)
}

func bridgeStatsPoint(gatewayID string, counters map[string]int64, ts time.Time) *write.Point {
	fields := make(map[string]interface{}, len(counters))
	for k, v := range counters {
		fields[k] = v
	}
	return write.NewPoint(
		measurementBridgeStats,
		map[string]string{"bridge": gatewayID},
		fields,
		ts,
	)
}
