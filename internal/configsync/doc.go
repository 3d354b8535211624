// Package configsync runs the per-repository sync pipeline: clone, plan,
// write, commit, push and publish, with orphan cleanup tracked through the
// repository manifest. Runner fans repositories out over a bounded worker pool
// and CommandBuilder exposes the whole run as the sync command.
package configsync
