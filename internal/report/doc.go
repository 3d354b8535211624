// Package report renders per-repository sync outcomes as a Markdown table and
// appends it to a CI step-summary file when one is configured.
package report
