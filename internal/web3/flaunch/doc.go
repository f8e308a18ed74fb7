// Package flaunch contains minimal contract bindings for the token launchpad
// and the revenue manager that splits trading fees between creators and the
// platform. The ABIs are embedded JSON and only describe the entry points the
// orchestrator calls.
package flaunch
