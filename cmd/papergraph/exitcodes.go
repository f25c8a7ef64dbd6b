package main

// Exit codes for the papergraph CLI.
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (missing config, invalid values)
	ExitSinkError   = 3 // Persistence sink unreachable
)
