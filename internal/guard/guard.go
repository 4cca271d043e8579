// Package guard holds the single authorization primitive for project-scoped
// resources: is this caller a member of this project.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/collabmate/collabmate/db/models"
)

// ErrDenied covers both "no such project" and "not a member". Callers must
// not be able to tell the two apart.
var ErrDenied = errors.New("not authorized")

// ProjectFinder returns (nil, nil) when the project does not exist.
type ProjectFinder interface {
	FindProject(ctx context.Context, projectID string) (*models.Project, error)
}

type Guard interface {
	AuthorizeProjectAccess(ctx context.Context, projectID, callerID string) (*models.Project, error)
}

type membershipGuard struct {
	projects ProjectFinder
}

func New(projects ProjectFinder) Guard {
	return &membershipGuard{projects: projects}
}

// AuthorizeProjectAccess returns the project when callerID is in its member
// set. Lookup failures other than "not found" are returned wrapped so the
// REST surface can tell an outage from a denial.
func (g *membershipGuard) AuthorizeProjectAccess(ctx context.Context, projectID, callerID string) (*models.Project, error) {
	if projectID == "" || callerID == "" {
		return nil, ErrDenied
	}
	project, err := g.projects.FindProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("lookup project %s: %w", projectID, err)
	}
	if project == nil || !project.HasMember(callerID) {
		return nil, ErrDenied
	}
	return project, nil
}

// Func adapts a function to the Guard interface.
type Func func(ctx context.Context, projectID, callerID string) (*models.Project, error)

func (f Func) AuthorizeProjectAccess(ctx context.Context, projectID, callerID string) (*models.Project, error) {
	return f(ctx, projectID, callerID)
}
