// Package aggregator turns replica results into node, service and global
// statuses and decides when to notify.
//
// Each Pass runs under one exclusive store lock. Poll and script replicas
// keep the status the prober wrote; push replicas are dead when their
// reporter went silent, sick when overloaded; local replicas keep their
// reported status unless silent. Statuses fold bottom-up with
// types.Status.Merge and are recomputed from scratch every pass.
//
// A notification is due on any transition into or out of dead. While the
// global status stays dead, reminders follow reminder_interval scaled by
// counter^exponent, where the counter grows up to reminder_backoff_limit and
// resets once the status leaves dead. Reminders are skipped while an
// operator snooze (reminder_ignore_until) is in the future.
package aggregator
