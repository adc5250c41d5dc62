// Package config loads the YAML configuration of the blatann CLI. Values
// missing from the file keep the defaults returned by Default, and command
// line flags override both.
package config
