package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core/enroll"
)

type enrollRepository struct {
	db *sqlx.DB
}

var _ enroll.Repository = (*enrollRepository)(nil)

func NewEnrollRepository(db *sqlx.DB) *enrollRepository {
	return &enrollRepository{db: db}
}

func (repo enrollRepository) SaveProcess(ctx context.Context, p enroll.Process) error {
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO enrollment_processes (id, provisional_id, device_assigned_id, subject_name,
		                                  subject_ref, step, started_at, completed_at, quality, fail_reason)
		VALUES (:id, :provisional_id, :device_assigned_id, :subject_name,
		        :subject_ref, :step, :started_at, :completed_at, :quality, :fail_reason)
		ON CONFLICT (id) DO UPDATE
		SET device_assigned_id = EXCLUDED.device_assigned_id,
		    step               = EXCLUDED.step,
		    completed_at       = EXCLUDED.completed_at,
		    quality            = EXCLUDED.quality,
		    fail_reason        = EXCLUDED.fail_reason`, p)
	return errors.Wrap(err, "saving enrollment process")
}

func (repo enrollRepository) GetProcess(ctx context.Context, id string) (enroll.Process, error) {
	var p enroll.Process
	err := repo.db.GetContext(ctx, &p, `SELECT * FROM enrollment_processes WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return enroll.Process{}, errors.WithStack(enroll.ErrProcessNotFound)
	}
	return p, errors.Wrap(err, "getting enrollment process")
}

func (repo enrollRepository) GetActiveProcess(ctx context.Context) (enroll.Process, error) {
	var p enroll.Process
	err := repo.db.GetContext(ctx, &p, `
		SELECT * FROM enrollment_processes
		WHERE step NOT IN ('complete', 'failed', 'cancelled', 'timeout')
		ORDER BY started_at DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return enroll.Process{}, errors.WithStack(enroll.ErrNoActiveProcess)
	}
	return p, errors.Wrap(err, "getting active enrollment process")
}

func (repo enrollRepository) SetSubjectFingerprint(ctx context.Context, subjectRef string, fingerprintID int, at time.Time) error {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE students SET fingerprint_id = $2, enrolled_at = $3 WHERE reg_no = $1`,
		subjectRef, fingerprintID, at)
	return errors.Wrap(err, "recording enrolled fingerprint")
}
