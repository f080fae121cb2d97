/*
Package log provides structured logging for nimbus using zerolog.

A single package-level Logger is configured once by Init and shared by every
package. Components derive child loggers that carry identifying fields, so a
line from the reconciler can be traced back to the resource it concerns.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Levels are debug, info, warn and error. An unrecognized level falls back to
info; ValidLevel lets callers reject it earlier, as the config loader does.
Without JSONOutput lines are written through zerolog's ConsoleWriter with
RFC 3339 timestamps. Output defaults to stdout.

# Child Loggers

	logger := log.WithComponent("reconciler")
	logger = log.WithKind(logger, "vm")
	log.WithResourceID(logger, "vm-1").Info().Msg("Executing action")

produces

	{"level":"info","component":"reconciler","kind":"vm","resource_id":"vm-1","time":"...","message":"Executing action"}

Field names are fixed: component, kind and resource_id. Log queries rely on
them.

# Helpers

Info, Debug, Warn, Error, Errorf and Fatal write a bare message to the global
logger. They suit the CLI; long-running components should hold a child
logger instead. Fatal exits the process.
*/
package log
