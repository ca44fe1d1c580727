// Package schedule starts device sessions on cron timetables.
//
// Entries come from the schedule section of the configuration. Specs use
// the standard five fields (minute, hour, day of month, month, day of week)
// or a descriptor such as "@hourly" or "@every 90m". An entry with no
// devices targets every device the registry has cached when it fires.
package schedule
