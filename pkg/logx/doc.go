// Package logx is the zerolog wrapper used across idlejob: a copyable
// Logger with fixed fields, and a Service whose level and sinks can be
// swapped on config reload. Console lines are human readable; the file sink
// is JSON.
package logx
