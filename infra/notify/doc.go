// Package notify contains carrier notification adapters. The MQTT notifier
// publishes offers, reminders and assignment notices on per-carrier topics;
// the log notifier is a stand-in for environments without a broker.
package notify
