// Package manifest persists, per configuration id, the files cfgsync manages in a
// repository so that files dropped from the configuration can be deleted later.
//
// The manifest lives at the repository root as .cfgsync.json. Only schema
// version 2 is understood; any other version, including the legacy version 1
// layout, is treated as if no manifest existed.
package manifest
