// Package domain provides the data model shared by every campbellsync
// package: readings parsed from a datalogger, per-cycle results, the error
// taxonomy, and the canonical encoding used for content-addressed samples.
//
// This package imports nothing internal. All other internal packages
// import domain; domain imports none of them.
//
// Key design constraints:
//   - Field order in a Reading is the datalogger's metadata order
//   - Titles are compared after NFC normalization
//   - All JSON tags use snake_case
package domain
