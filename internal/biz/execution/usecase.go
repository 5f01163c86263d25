package execution

import (
	"context"

	"github.com/google/wire"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/samber/mo"
)

var Provider = wire.NewSet(NewUsecase)

// CancelNotifier broadcasts a cancellation to whichever engine process runs the job.
type CancelNotifier interface {
	RunCancelled(ctx context.Context, runID uint64) error
}

type Usecase struct {
	repo     Repo
	notifier CancelNotifier
}

func NewUsecase(repo Repo, notifier CancelNotifier) *Usecase {
	return &Usecase{repo: repo, notifier: notifier}
}

func (u *Usecase) ListRuns(ctx context.Context, installationID uint64, status mo.Option[RunStatus], offset, limit int) ([]*ExecutionRun, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return u.repo.List(ctx, ListFilter{
		InstallationID: mo.Some(installationID),
		Status:         status,
	}, offset, limit)
}

// CancelRun flags the run and notifies the engines. The owning worker moves the
// run to cancelled.
func (u *Usecase) CancelRun(ctx context.Context, installationID, runID uint64) error {
	run, err := u.repo.GetByID(ctx, runID)
	if err != nil {
		return err
	} else if run == nil || run.InstallationID != installationID {
		return errors.Mark(errors.Newf("run %d not found", runID), errors.ErrNotFound)
	} else if run.IsTerminal() {
		return errors.Mark(errors.Newf("run %d already %s", runID, run.Status), errors.ErrConflict)
	}

	ok, err := u.repo.RequestCancel(ctx, runID)
	if err != nil {
		return err
	} else if !ok {
		return errors.Mark(errors.Newf("run %d already finished", runID), errors.ErrConflict)
	}
	return u.notifier.RunCancelled(ctx, runID)
}
