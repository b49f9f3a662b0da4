// Package log wraps zerolog with a global logger and component-scoped
// child loggers (WithComponent, WithOperationID, WithEntityKey), matching
// the conventions the rest of the engine's components log through.
package log
