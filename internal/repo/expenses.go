package repo

import (
	"context"
	"sort"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/db/tkv"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func expenseKey(projectID, id string) string {
	return key(projectExpensePrefix, projectID, id)
}

func (r *Repo) CreateExpense(ctx context.Context, expense *models.Expense) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}

	now := r.timestamp()
	expense.ID = uuid.NewString()
	expense.CreatedAt, expense.UpdatedAt = now, now

	doc, err := encode(expenseKey(expense.Project, expense.ID), expense)
	if err != nil {
		return err
	}
	err = kv.BatchSet([]tkv.TKVBatchEntry{
		doc,
		{Key: key(expensePrefix, expense.ID), Value: expense.Project},
	})
	return errors.Wrap(err, "create expense")
}

func (r *Repo) GetExpense(ctx context.Context, id string) (*models.Expense, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	projectID, err := kv.Get(key(expensePrefix, id))
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup expense")
	}
	return getJSON[models.Expense](kv, expenseKey(projectID, id))
}

// ListExpenses returns a project's expenses, newest first.
func (r *Repo) ListExpenses(ctx context.Context, projectID string) ([]*models.Expense, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	expenses, err := scanJSON[models.Expense](kv, key(projectExpensePrefix, projectID)+":")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
	return expenses, nil
}

func (r *Repo) SaveExpense(ctx context.Context, expense *models.Expense) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}
	expense.UpdatedAt = r.timestamp()
	return putJSON(kv, expenseKey(expense.Project, expense.ID), expense)
}

func (r *Repo) DeleteExpense(ctx context.Context, expense *models.Expense) error {
	kv, err := r.kv(ctx)
	if err != nil {
		return err
	}
	err = kv.BatchDelete([]string{
		expenseKey(expense.Project, expense.ID),
		key(expensePrefix, expense.ID),
	})
	return errors.Wrap(err, "delete expense")
}
