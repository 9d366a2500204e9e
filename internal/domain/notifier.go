package domain

import "context"

type Notification struct {
	Subject string
	Message string
	// Attachment is an optional local file that notifiers may send along.
	Attachment string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}
