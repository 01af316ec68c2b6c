// Package bus implements the Bus Supervisor: the event-routing layer that
// sits between a session's Media Pipeline and the Recording Controller /
// Session Registry, translating asynchronous pipeline events into state
// transitions and finalization calls.
package bus
