package config

import (
	"fmt"
	"os"
)

// DefaultAlertQueue is the durable queue the worker binds to the alert exchange
const DefaultAlertQueue = "admin_alerts_log"

// Worker holds the alert worker settings
type Worker struct {
	Environment string
	AMQPURI     string
	AlertQueue  string
	SentryDSN   string
}

// Production reports whether API_ENV selects production
func (w *Worker) Production() bool {
	return w.Environment == EnvProduction
}

// LoadWorker reads the worker settings from the process environment
func LoadWorker() (*Worker, error) {
	return WorkerFromEnv(os.Getenv)
}

// WorkerFromEnv builds a Worker from getenv. AMQP_URI is required.
func WorkerFromEnv(getenv func(string) string) (*Worker, error) {
	w := &Worker{
		Environment: getenv("API_ENV"),
		AMQPURI:     getenv("AMQP_URI"),
		AlertQueue:  getenv("ALERT_QUEUE"),
		SentryDSN:   getenv("SENTRY_DSN"),
	}
	if w.Environment == "" {
		w.Environment = EnvDevelopment
	}
	if w.AlertQueue == "" {
		w.AlertQueue = DefaultAlertQueue
	}
	if w.AMQPURI == "" {
		return nil, fmt.Errorf("missing required settings: AMQP_URI")
	}
	return w, nil
}
