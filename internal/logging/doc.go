// Package logging provides structured logging with correlation ID support
// for the stream recording engine.
//
// It wraps logrus with component identification, correlation ID
// propagation through context.Context, and configurable output
// destinations (console, rotating file, or both), behind a small factory so
// every component-scoped logger created via GetLogger shares one
// process-wide level/format configuration.
//
// Usage:
//   - Configure once at startup: ConfigureGlobalLogging(config)
//   - Get a component logger anywhere: GetLogger("recording")
//   - Attach structured context: logger.WithField("session_id", id)
//   - Propagate a correlation ID: logger.WithCorrelationID(id), or carry one
//     through a context.Context with ContextWithCorrelationID/
//     CorrelationIDFromContext and log it via LogWithContext.
package logging
