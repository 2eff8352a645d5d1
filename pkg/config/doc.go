// Package config loads, validates and watches the archstrap configuration.
// Settings come from a YAML file layered over built-in defaults, with the
// user credential overridable through the environment so it never has to
// live on disk.
package config
