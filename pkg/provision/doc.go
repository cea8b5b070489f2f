// Package provision manages the lifecycle of volumes.
//
// A Provisioner creates and destroys the password-gated root directory of a volume.
// The Manager owns the volume handles opened on these roots: handles are opened on
// demand, seeded on creation and closed before a volume is destroyed.
package provision
