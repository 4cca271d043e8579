package models

import (
	"slices"
	"time"
)

/*
	Documents persisted in the store as JSON. Every document carries its
	own id; the repository layer derives the storage key from it.
*/

type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public strips the credential material from a user.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

type Project struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (p *Project) HasMember(userID string) bool {
	return slices.Contains(p.Members, userID)
}

// AddMember reports whether the member set changed.
func (p *Project) AddMember(userID string) bool {
	if p.HasMember(userID) {
		return false
	}
	p.Members = append(p.Members, userID)
	return true
}

// RemoveMember reports whether the member set changed. The owner cannot be
// removed.
func (p *Project) RemoveMember(userID string) bool {
	if userID == p.Owner || !p.HasMember(userID) {
		return false
	}
	p.Members = slices.DeleteFunc(p.Members, func(m string) bool { return m == userID })
	return true
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone:
		return true
	}
	return false
}

type Task struct {
	ID          string     `json:"_id"`
	Project     string     `json:"project"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Expense struct {
	ID        string    `json:"_id"`
	Project   string    `json:"project"`
	Title     string    `json:"title"`
	Amount    float64   `json:"amount"`
	PaidBy    string    `json:"paidBy"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID        string    `json:"_id"`
	Project   string    `json:"project"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
