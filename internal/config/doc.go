// Package config loads the campbellsync configuration file.
//
// A configuration is a YAML (or JSON) document. Loading runs in four steps:
//
//  1. ${VAR} references are expanded from the environment.
//  2. The document is checked against an embedded CUE schema, which
//     rejects unknown keys, missing required source fields and values
//     of the wrong type.
//  3. The document is decoded and defaults are filled in.
//  4. Semantic checks run: unique source names, absolute http(s) hosts,
//     usable store settings and non-negative durations.
//
// All problems of a step are reported together in a single *Error.
//
// Cron expressions are deliberately not checked here. An invalid schedule
// disables only its own source when the fleet is built; use the validate
// command to surface such problems up front.
package config
