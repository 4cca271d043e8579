package repo

import (
	"context"
	"sort"
	"strings"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/db/tkv"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func (r *Repo) CreateProject(ctx context.Context, ownerID, name, description string) (*models.Project, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}

	now := r.timestamp()
	project := &models.Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: description,
		Owner:       ownerID,
		Members:     []string{ownerID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	doc, err := encode(key(projectPrefix, project.ID), project)
	if err != nil {
		return nil, err
	}
	err = kv.BatchSet([]tkv.TKVBatchEntry{
		doc,
		{Key: key(memberPrefix, ownerID, project.ID), Value: project.ID},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create project")
	}
	return project, nil
}

// FindProject returns nil, nil when the project does not exist.
func (r *Repo) FindProject(ctx context.Context, id string) (*models.Project, error) {
	project, err := r.GetProject(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return project, err
}

func (r *Repo) GetProject(ctx context.Context, id string) (*models.Project, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	return getJSON[models.Project](kv, key(projectPrefix, id))
}

// ListProjects returns the projects userID belongs to, most recently
// updated first.
func (r *Repo) ListProjects(ctx context.Context, userID string) ([]*models.Project, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}

	prefix := key(memberPrefix, userID) + ":"
	entries, err := kv.Scan(prefix, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "scan memberships")
	}

	projects := make([]*models.Project, 0, len(entries))
	for _, entry := range entries {
		project, err := getJSON[models.Project](kv, key(projectPrefix, entry.Value))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.logger.Warn("Membership index points at a missing project", "key", entry.Key)
				continue
			}
			return nil, err
		}
		projects = append(projects, project)
	}

	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

// SaveProject rewrites the project document and reconciles the membership
// index against previous.
func (r *Repo) SaveProject(ctx context.Context, previous, project *models.Project) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}

	project.UpdatedAt = r.timestamp()
	doc, err := encode(key(projectPrefix, project.ID), project)
	if err != nil {
		return err
	}

	sets := []tkv.TKVBatchEntry{doc}
	for _, member := range project.Members {
		if !previous.HasMember(member) {
			sets = append(sets, tkv.TKVBatchEntry{Key: key(memberPrefix, member, project.ID), Value: project.ID})
		}
	}
	var deletes []string
	for _, member := range previous.Members {
		if !project.HasMember(member) {
			deletes = append(deletes, key(memberPrefix, member, project.ID))
		}
	}

	if err := kv.BatchSet(sets); err != nil {
		return errors.Wrap(err, "save project")
	}
	return errors.Wrap(kv.BatchDelete(deletes), "drop memberships")
}

// DeleteProject removes the project together with its memberships, tasks,
// expenses and messages.
func (r *Repo) DeleteProject(ctx context.Context, project *models.Project) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}

	keys := []string{key(projectPrefix, project.ID)}
	for _, member := range project.Members {
		keys = append(keys, key(memberPrefix, member, project.ID))
	}

	scoped := []struct {
		docs    string
		pointer string
	}{
		{docs: projectTaskPrefix, pointer: taskPrefix},
		{docs: projectExpensePrefix, pointer: expensePrefix},
		{docs: projectMessagePrefix},
	}
	for _, s := range scoped {
		prefix := key(s.docs, project.ID) + ":"
		docKeys, err := kv.Iterate(prefix, 0, 0)
		if err != nil {
			return errors.Wrapf(err, "iterate %s", prefix)
		}
		for _, k := range docKeys {
			keys = append(keys, k)
			if s.pointer != "" {
				keys = append(keys, s.pointer+strings.TrimPrefix(k, prefix))
			}
		}
	}

	if err := kv.BatchDelete(keys); err != nil {
		return errors.Wrap(err, "delete project")
	}
	r.logger.Debug("Project deleted", "project", project.ID, "keys", len(keys))
	return nil
}
