// Package routine provides recurrence policies for scheduled tasks.
//
// A Routine answers one question after a task fires: when should it fire next?
// The set of routines is closed: Once, Timeout and Cron.
package routine
