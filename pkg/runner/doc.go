// Package runner executes external commands for the provisioning steps and
// classifies their failures into the engine's error taxonomy. Steps depend
// on the Runner interface only, so tests script command outcomes without
// touching the host.
package runner
