package dummydb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core"
	"github.com/trezcool/hadiri/core/session"
)

// Student is a minimal enrolled-student row for the in-memory flavor.
type Student struct {
	ID            string
	Name          string
	RegNo         string
	Context       session.Context
	FingerprintID int // 0 = not enrolled
}

// SessionRepository is an in-memory session.Repository used in tests and
// local development without postgres.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	records  map[string][]session.Record
	Students []Student
}

var _ session.Repository = (*SessionRepository)(nil)

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]session.Session),
		records:  make(map[string][]session.Record),
	}
}

func (repo *SessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.sessions[s.ID] = s
	return s, nil
}

func (repo *SessionRepository) GetSession(ctx context.Context, id string) (session.Session, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	s, ok := repo.sessions[id]
	if !ok {
		return session.Session{}, errors.WithStack(session.ErrNotFound)
	}
	return s, nil
}

func (repo *SessionRepository) GetActiveSession(ctx context.Context, c session.Context) (session.Session, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, s := range repo.sessions {
		if s.IsActive() && s.Context == c {
			return s, nil
		}
	}
	return session.Session{}, errors.WithStack(session.ErrNoActiveSession)
}

func (repo *SessionRepository) GetActiveSessionFor(ctx context.Context, startedBy string) (session.Session, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, s := range repo.sessions {
		if s.IsActive() && s.StartedBy == startedBy {
			return s, nil
		}
	}
	return session.Session{}, errors.WithStack(session.ErrNoActiveSession)
}

func (repo *SessionRepository) EndSession(ctx context.Context, id string, endedAt time.Time) (session.Session, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	s, ok := repo.sessions[id]
	if !ok {
		return session.Session{}, errors.WithStack(session.ErrNotFound)
	}
	s.Status = session.StatusEnded
	s.EndedAt.SetValid(endedAt)
	s.Present = len(repo.records[id])
	repo.sessions[id] = s
	return s, nil
}

func (repo *SessionRepository) MarkAttendance(ctx context.Context, rec session.Record) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, existing := range repo.records[rec.SessionID] {
		if existing.StudentID == rec.StudentID {
			return errors.WithStack(session.ErrAlreadyMarked)
		}
	}
	repo.records[rec.SessionID] = append(repo.records[rec.SessionID], rec)
	return nil
}

func (repo *SessionRepository) QueryRecords(ctx context.Context, sessionID string) ([]session.Record, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	recs := make([]session.Record, len(repo.records[sessionID]))
	copy(recs, repo.records[sessionID])
	return recs, nil
}

func (repo *SessionRepository) CountPresent(ctx context.Context, sessionID string) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return len(repo.records[sessionID]), nil
}

func (repo *SessionRepository) CountByModality(ctx context.Context, sessionID string) (map[session.Modality]int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	counts := make(map[session.Modality]int)
	for _, rec := range repo.records[sessionID] {
		counts[rec.Modality]++
	}
	return counts, nil
}

func (repo *SessionRepository) CountEnrolledStudents(ctx context.Context, c session.Context) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var count int
	for _, st := range repo.Students {
		if st.Context == c {
			count++
		}
	}
	return count, nil
}

func (repo *SessionRepository) FindSubjectByFingerprint(ctx context.Context, fingerprintID int) (core.Subject, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, st := range repo.Students {
		if st.FingerprintID != 0 && st.FingerprintID == fingerprintID {
			return core.Subject{ID: st.ID, Name: st.Name, RegNo: st.RegNo, Source: "fingerprint"}, nil
		}
	}
	return core.Subject{}, errors.WithStack(session.ErrUnknownFingerprint)
}

func (repo *SessionRepository) EndStaleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var count int
	for id, s := range repo.sessions {
		if s.IsActive() && s.StartedAt.Before(cutoff) {
			s.Status = session.StatusEnded
			s.EndedAt.SetValid(time.Now().UTC())
			repo.sessions[id] = s
			count++
		}
	}
	return count, nil
}
