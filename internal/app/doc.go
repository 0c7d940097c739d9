// Package app contains the core application logic. It defines the layered
// configuration, the per-invocation BuildContext and the build lifecycle,
// decoupled from any specific entrypoint like a CLI.
package app
