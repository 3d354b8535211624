// Package publish turns a pushed sync branch into a pull request on the
// repository's host, or pushes it straight to the base branch.
//
// Host specific calls go through HostTransport implementations; Publisher
// owns title and body formatting, dry-run handling, retries, reuse of an
// already open request and the requested merge mode.
package publish
