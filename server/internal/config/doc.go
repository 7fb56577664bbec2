// Package config loads the vigil server configuration from a YAML file.
//
// Sections:
//   - server:   listen address, log level, reporter and manager tokens
//   - branding: page title and public URL used in notifications
//   - metrics:  poll/script/push cadence, thresholds and parallelism
//   - plugins:  ICMP socket type and the optional queue (RabbitMQ) check
//   - notify:   startup notification, reminder backoff, channels
//   - probe:    the ordered service/node tree with replicas or scripts
//
// Secrets may be given literally or through an environment variable named by
// the matching *_env field; the environment wins when set.
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change so notification channels can be swapped live.
package config
