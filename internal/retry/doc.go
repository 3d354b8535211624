// Package retry runs network-facing operations with bounded attempts and exponential backoff.
package retry
