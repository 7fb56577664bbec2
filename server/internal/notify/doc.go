// Package notify delivers status notifications.
//
// A Dispatcher holds the set of channels built from the notify config
// section: webhook, slack, teams, telegram, gotify, pushover, twilio (SMS),
// zulip, matrix and webex. Pushover and twilio send one message per
// recipient and fail the attempt if any recipient fails. Dispatch sends one
// Notification to every channel that accepts it, concurrently; each channel
// gets three attempts two seconds apart with a ten second timeout per attempt.
// Channels marked reminders_only skip status changes.
//
// Dispatch fails with ErrAllChannelsFailed only when every attempted channel
// failed. The aggregator treats that as fatal for its loop.
package notify
