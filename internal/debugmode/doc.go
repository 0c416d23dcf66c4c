// Package debugmode switches the agent's verbose logging on and off.
//
// Turning debug on lowers the console log level to DEBUG and tees every record
// into a size-bounded JSON log file rotated by lumberjack. The MRWP_DEBUG
// environment variable pins the runtime state for the life of the process;
// toggles still persist the requested state and record a notice explaining
// why it did not take effect.
package debugmode
