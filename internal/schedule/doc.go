// Package schedule validates cron expressions and fires callbacks on them.
//
// Accepted syntax is the standard 5-field cron expression, optionally
// preceded by a seconds field, plus the @hourly/@daily/@every descriptors:
//
//	┌───────────── second (0-59, optional)
//	│ ┌───────────── minute (0-59)
//	│ │ ┌───────────── hour (0-23)
//	│ │ │ ┌───────────── day of month (1-31)
//	│ │ │ │ ┌───────────── month (1-12 or JAN-DEC)
//	│ │ │ │ │ ┌───────────── day of week (0-6 or SUN-SAT)
//	│ │ │ │ │ │
//	* * * * * *
//
// Parsing is delegated to github.com/robfig/cron/v3. Firing is done by
// Trigger against an injectable Clock so tests can drive time explicitly.
package schedule
