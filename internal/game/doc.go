// Package game defines the domain types shared across the taleweave core:
// sessions, campaign definitions, log entries, structural state diffs, and
// turn results.
//
// The package is dependency-free on purpose. Every other internal package
// (cache, store, engine, conclude) builds on these types; none of them are
// mutated outside the session cache.
package game
