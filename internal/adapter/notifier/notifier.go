package notifier

import (
	"context"
	"errors"

	"github.com/semmidev/dbkeeper/internal/domain"
)

// Multi fans a notification out to every configured channel. An empty Multi
// is a valid no-op notifier.
type Multi []domain.Notifier

func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
