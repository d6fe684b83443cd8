package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core"
	"github.com/trezcool/hadiri/core/session"
)

const pqUniqueViolation = "23505"

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil)

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (repo sessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO sessions (id, status, modality, department_id, option_id, course_id,
		                      started_by, started_at, ended_at, last_scan_at, present, total)
		VALUES (:id, :status, :modality, :department_id, :option_id, :course_id,
		        :started_by, :started_at, :ended_at, :last_scan_at, :present, :total)`, s)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo sessionRepository) GetSession(ctx context.Context, id string) (session.Session, error) {
	var s session.Session
	err := repo.db.GetContext(ctx, &s, `SELECT * FROM sessions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return session.Session{}, errors.WithStack(session.ErrNotFound)
	}
	return s, errors.Wrap(err, "getting session")
}

func (repo sessionRepository) GetActiveSession(ctx context.Context, c session.Context) (session.Session, error) {
	var s session.Session
	err := repo.db.GetContext(ctx, &s, `
		SELECT * FROM sessions
		WHERE status = 'active' AND department_id = $1 AND option_id = $2 AND course_id = $3
		ORDER BY started_at DESC LIMIT 1`,
		c.DepartmentID, c.OptionID, c.CourseID)
	if err == sql.ErrNoRows {
		return session.Session{}, errors.WithStack(session.ErrNoActiveSession)
	}
	return s, errors.Wrap(err, "getting active session")
}

func (repo sessionRepository) GetActiveSessionFor(ctx context.Context, startedBy string) (session.Session, error) {
	var s session.Session
	err := repo.db.GetContext(ctx, &s, `
		SELECT * FROM sessions
		WHERE status = 'active' AND started_by = $1
		ORDER BY started_at DESC LIMIT 1`, startedBy)
	if err == sql.ErrNoRows {
		return session.Session{}, errors.WithStack(session.ErrNoActiveSession)
	}
	return s, errors.Wrap(err, "getting active session")
}

func (repo sessionRepository) EndSession(ctx context.Context, id string, endedAt time.Time) (session.Session, error) {
	var s session.Session
	err := repo.db.QueryRowxContext(ctx, `
		UPDATE sessions
		SET status  = 'ended',
		    ended_at = $2,
		    present  = (SELECT COUNT(*) FROM attendance_records WHERE session_id = $1)
		WHERE id = $1
		RETURNING *`, id, endedAt).StructScan(&s)
	if err == sql.ErrNoRows {
		return session.Session{}, errors.WithStack(session.ErrNotFound)
	}
	return s, errors.Wrap(err, "ending session")
}

func (repo sessionRepository) MarkAttendance(ctx context.Context, rec session.Record) error {
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO attendance_records (session_id, student_id, student_name, modality, confidence, marked_at)
		VALUES (:session_id, :student_id, :student_name, :modality, :confidence, :marked_at)`, rec)
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
		return errors.WithStack(session.ErrAlreadyMarked)
	}
	return errors.Wrap(err, "marking attendance")
}

func (repo sessionRepository) QueryRecords(ctx context.Context, sessionID string) ([]session.Record, error) {
	recs := make([]session.Record, 0)
	err := repo.db.SelectContext(ctx, &recs, `
		SELECT * FROM attendance_records WHERE session_id = $1 ORDER BY marked_at`, sessionID)
	return recs, errors.Wrap(err, "querying records")
}

func (repo sessionRepository) CountPresent(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM attendance_records WHERE session_id = $1`, sessionID)
	return count, errors.Wrap(err, "counting present")
}

func (repo sessionRepository) CountByModality(ctx context.Context, sessionID string) (map[session.Modality]int, error) {
	rows, err := repo.db.QueryxContext(ctx, `
		SELECT modality, COUNT(*) FROM attendance_records WHERE session_id = $1 GROUP BY modality`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "counting by modality")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[session.Modality]int)
	for rows.Next() {
		var (
			mod   session.Modality
			count int
		)
		if err = rows.Scan(&mod, &count); err != nil {
			return nil, errors.Wrap(err, "counting by modality")
		}
		counts[mod] = count
	}
	return counts, errors.Wrap(rows.Err(), "counting by modality")
}

func (repo sessionRepository) CountEnrolledStudents(ctx context.Context, c session.Context) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM students
		WHERE department_id = $1 AND option_id = $2 AND course_id = $3`,
		c.DepartmentID, c.OptionID, c.CourseID)
	return count, errors.Wrap(err, "counting enrolled students")
}

func (repo sessionRepository) FindSubjectByFingerprint(ctx context.Context, fingerprintID int) (core.Subject, error) {
	var subj core.Subject
	err := repo.db.QueryRowxContext(ctx, `
		SELECT id, name, reg_no FROM students WHERE fingerprint_id = $1`, fingerprintID).
		Scan(&subj.ID, &subj.Name, &subj.RegNo)
	if err == sql.ErrNoRows {
		return core.Subject{}, errors.WithStack(session.ErrUnknownFingerprint)
	}
	subj.Source = "fingerprint"
	return subj, errors.Wrap(err, "finding subject by fingerprint")
}

func (repo sessionRepository) EndStaleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'ended', ended_at = NOW()
		WHERE status = 'active' AND started_at < $1`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "ending stale sessions")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "ending stale sessions")
}
