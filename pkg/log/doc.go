// Package log provides structured logging for the orchestration core using
// zerolog. Init configures the global Logger once at startup; subsystems
// derive component loggers from it via WithComponent and friends.
package log
