package milestone

import (
	"context"
	"errors"
	"fmt"

	"guildcourt/kvstore"
)

var (
	ErrProjectNotFound = errors.New("milestone: project not found")
	ErrNotFound        = errors.New("milestone: not found")
)

const (
	projectCounterKey   = "project/counter"
	projectPrefix       = "project/record/"
	milestoneCounterKey = "milestone/counter"
	milestonePrefix     = "milestone/record/"
	projectIndexPrefix  = "milestone/by_project/"
)

// Repository persists projects and milestones inside a store transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) InsertProject(ctx context.Context, tx kvstore.Txn, p Project) (Project, error) {
	id, err := kvstore.NextSequence(ctx, tx, projectCounterKey)
	if err != nil {
		return Project{}, fmt.Errorf("milestone: next project id: %w", err)
	}
	p.ID = id
	if err := r.PutProject(ctx, tx, p); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (r *Repository) GetProject(ctx context.Context, tx kvstore.Txn, id uint64) (Project, error) {
	var p Project
	if err := kvstore.GetJSON(ctx, tx, projectPrefix+kvstore.ID(id), &p); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Project{}, ErrProjectNotFound
		}
		return Project{}, fmt.Errorf("milestone: get project %d: %w", id, err)
	}
	return p, nil
}

func (r *Repository) PutProject(ctx context.Context, tx kvstore.Txn, p Project) error {
	if err := kvstore.PutJSON(ctx, tx, projectPrefix+kvstore.ID(p.ID), p); err != nil {
		return fmt.Errorf("milestone: put project %d: %w", p.ID, err)
	}
	return nil
}

// Insert assigns the next milestone id, stores m and indexes it under its
// project.
func (r *Repository) Insert(ctx context.Context, tx kvstore.Txn, m Milestone) (Milestone, error) {
	id, err := kvstore.NextSequence(ctx, tx, milestoneCounterKey)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: next id: %w", err)
	}
	m.ID = id
	if err := r.Put(ctx, tx, m); err != nil {
		return Milestone{}, err
	}
	if err := kvstore.PutJSON(ctx, tx, indexKey(m.ProjectID, m.ID), m.ID); err != nil {
		return Milestone{}, fmt.Errorf("milestone: index %d: %w", m.ID, err)
	}
	return m, nil
}

func (r *Repository) Get(ctx context.Context, tx kvstore.Txn, id uint64) (Milestone, error) {
	var m Milestone
	if err := kvstore.GetJSON(ctx, tx, milestonePrefix+kvstore.ID(id), &m); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: get %d: %w", id, err)
	}
	return m, nil
}

// Exists reports whether a milestone with id has been stored.
func (r *Repository) Exists(ctx context.Context, tx kvstore.Txn, id uint64) (bool, error) {
	ok, err := tx.Has(ctx, milestonePrefix+kvstore.ID(id))
	if err != nil {
		return false, fmt.Errorf("milestone: has %d: %w", id, err)
	}
	return ok, nil
}

func (r *Repository) Put(ctx context.Context, tx kvstore.Txn, m Milestone) error {
	if err := kvstore.PutJSON(ctx, tx, milestonePrefix+kvstore.ID(m.ID), m); err != nil {
		return fmt.Errorf("milestone: put %d: %w", m.ID, err)
	}
	return nil
}

// ProjectMilestoneIDs lists the ids of the project's milestones in creation
// order.
func (r *Repository) ProjectMilestoneIDs(ctx context.Context, tx kvstore.Txn, projectID uint64) ([]uint64, error) {
	entries, err := tx.Scan(ctx, projectIndexPrefix+kvstore.ID(projectID)+"/")
	if err != nil {
		return nil, fmt.Errorf("milestone: scan project %d: %w", projectID, err)
	}
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		var id uint64
		if err := e.Decode(&id); err != nil {
			return nil, fmt.Errorf("milestone: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ProjectMilestones loads every milestone of the project.
func (r *Repository) ProjectMilestones(ctx context.Context, tx kvstore.Txn, projectID uint64) ([]Milestone, error) {
	ids, err := r.ProjectMilestoneIDs(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]Milestone, 0, len(ids))
	for _, id := range ids {
		m, err := r.Get(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func indexKey(projectID, milestoneID uint64) string {
	return projectIndexPrefix + kvstore.ID(projectID) + "/" + kvstore.ID(milestoneID)
}
