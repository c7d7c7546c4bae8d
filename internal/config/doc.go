// Package config builds the immutable Settings snapshot from compiled-in
// defaults overlaid by an optional YAML file, an optional dotenv file, the
// process environment and CLI flags, in that order of increasing precedence.
// Environment names are matched case-sensitively. Values that cannot be
// coerced to a field's type, or that break a field rule, fail the load with a
// *ValidationError.
package config
