package adapter

import (
	"context"

	"github.com/operio-dev/1nproject/internal/domain/model"
)

// OperatorAlerter notifies humans about payments that need manual handling.
type OperatorAlerter interface {
	Escalate(ctx context.Context, alert model.CompensationAlert) error
}
