package usecase

import (
	"context"

	"github.com/operio-dev/1nproject/internal/domain/model"
)

// Sweeper defines the expiry sweep as needed by background workers and the CLI.
type Sweeper interface {
	Sweep(ctx context.Context) (*model.SweepResult, error)
}
