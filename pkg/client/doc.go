// Package client is the Go client of the engine HTTP API, used by the CLI.
package client
