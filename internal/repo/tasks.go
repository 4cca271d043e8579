package repo

import (
	"context"
	"sort"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/db/tkv"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func taskKey(projectID, id string) string {
	return key(projectTaskPrefix, projectID, id)
}

func (r *Repo) CreateTask(ctx context.Context, task *models.Task) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}

	now := r.timestamp()
	task.ID = uuid.NewString()
	task.CreatedAt, task.UpdatedAt = now, now
	if task.Status == "" {
		task.Status = models.TaskTodo
	}

	doc, err := encode(taskKey(task.Project, task.ID), task)
	if err != nil {
		return err
	}
	err = kv.BatchSet([]tkv.TKVBatchEntry{
		doc,
		{Key: key(taskPrefix, task.ID), Value: task.Project},
	})
	return errors.Wrap(err, "create task")
}

func (r *Repo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	projectID, err := kv.Get(key(taskPrefix, id))
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup task")
	}
	return getJSON[models.Task](kv, taskKey(projectID, id))
}

// ListTasks returns a project's tasks, most recently updated first.
func (r *Repo) ListTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := scanJSON[models.Task](kv, key(projectTaskPrefix, projectID)+":")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
	return tasks, nil
}

func (r *Repo) SaveTask(ctx context.Context, task *models.Task) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}
	task.UpdatedAt = r.timestamp()
	return putJSON(kv, taskKey(task.Project, task.ID), task)
}

func (r *Repo) DeleteTask(ctx context.Context, task *models.Task) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}
	err = kv.BatchDelete([]string{
		taskKey(task.Project, task.ID),
		key(taskPrefix, task.ID),
	})
	return errors.Wrap(err, "delete task")
}
