// Package api implements the optional HTTP status server for the bridge.
//
// All endpoints are read-only; control stays on MQTT.
//
//	GET /api/v1/health            bridge health (503 when degraded)
//	GET /api/v1/metrics           runtime, bridge counters, database pool
//	GET /api/v1/discovery         announced discovery descriptors
//	GET /api/v1/units             units seen since startup (plus recorder history)
//	GET /api/v1/units/{housecode} one unit
//
// Lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
