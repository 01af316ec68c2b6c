// Package common provides the Stoppable interface shared by the engine's
// long-lived services (the Bus Supervisor, the Metadata Store Adapter) so
// cmd/server can shut them all down through one uniform, context-aware
// contract instead of a bespoke call per service.
package common
