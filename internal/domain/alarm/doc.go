// Package alarm contains core domain types for the alarm business logic.
//
// It defines Alarm (a time of day on a 12- or 24-hour clock that derives its
// next firing instant) and State (the host coordinator's view: current alarm,
// active flag and acknowledged peers) with Clone helpers to avoid leaking
// internal references.
package alarm
