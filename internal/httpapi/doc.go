// Package httpapi implements the engine's HTTP control plane: connect and
// disconnect streams, start and stop recordings, and browse/download the
// recording catalog, all delegating to the Session Registry, Recording
// Controller, Bus Supervisor and Metadata Store Adapter.
package httpapi
