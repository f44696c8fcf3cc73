// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// GatewayRequest caps the time allowed for a single inventory API request
// issued from the console process.
const GatewayRequest = 5 * time.Second

// AllocationSubmit caps the time allowed for the allocation submission call.
// It is longer than GatewayRequest because the server performs the stock
// adjudication transaction before answering.
const AllocationSubmit = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
