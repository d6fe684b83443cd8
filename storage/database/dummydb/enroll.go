package dummydb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core/enroll"
)

// EnrollRepository is an in-memory enroll.Repository used in tests and
// local development without postgres.
type EnrollRepository struct {
	mu        sync.Mutex
	processes map[string]enroll.Process

	// Enrolled records SetSubjectFingerprint calls, keyed by subject ref.
	Enrolled map[string]int
}

// EnrolledID returns the recorded fingerprint id for subjectRef, 0 if none.
func (repo *EnrollRepository) EnrolledID(subjectRef string) int {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return repo.Enrolled[subjectRef]
}

var _ enroll.Repository = (*EnrollRepository)(nil)

func NewEnrollRepository() *EnrollRepository {
	return &EnrollRepository{
		processes: make(map[string]enroll.Process),
		Enrolled:  make(map[string]int),
	}
}

func (repo *EnrollRepository) SaveProcess(ctx context.Context, p enroll.Process) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.processes[p.ID] = p
	return nil
}

func (repo *EnrollRepository) GetProcess(ctx context.Context, id string) (enroll.Process, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	p, ok := repo.processes[id]
	if !ok {
		return enroll.Process{}, errors.WithStack(enroll.ErrProcessNotFound)
	}
	return p, nil
}

func (repo *EnrollRepository) GetActiveProcess(ctx context.Context) (enroll.Process, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for _, p := range repo.processes {
		if !p.Step.Terminal() {
			return p, nil
		}
	}
	return enroll.Process{}, errors.WithStack(enroll.ErrNoActiveProcess)
}

func (repo *EnrollRepository) SetSubjectFingerprint(ctx context.Context, subjectRef string, fingerprintID int, at time.Time) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.Enrolled[subjectRef] = fingerprintID
	return nil
}
