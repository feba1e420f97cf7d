// Package models defines the domain types of the process automation engine:
// process definitions and their steps, triggers, instances, step executions,
// approvals, scheduled jobs, step templates and API connections.
package models
