// Package scheduler keeps the live mapping from task id to job handle.
//
// Recurring tasks become robfig/cron entries, one-shot tasks become timers. A trigger
// only enqueues a firing into the task engine; the scheduler never runs sends itself.
package scheduler
