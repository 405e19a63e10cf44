package domain

import (
	"time"

	"github.com/google/uuid"
)

// Template is the reusable playbook an automation renders on every run.
// Tasks and Links keep their insertion order.
type Template struct {
	ID uuid.UUID

	Title   string
	Subject string

	Headline string
	Summary  string
	Body     string

	Tasks []Task
	Links []Link

	CreatedAt time.Time
}

type Task struct {
	Title  string
	Detail string
}

type Link struct {
	Label string
	URL   string
}
