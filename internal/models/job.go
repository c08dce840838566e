package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStatus is the lifecycle state of a posted job.
type JobStatus string

const (
	JobStatusOpen       JobStatus = "open"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusOpen:       {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress: {JobStatusCompleted},
}

// CanTransitionTo reports whether a job may move from its current status to next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is a service request posted by a client.
type Job struct {
	Base        `bson:",inline"`
	ClientID    primitive.ObjectID `bson:"client_id" json:"client_id"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"`
	Category    string             `bson:"category" json:"category"`
	Location    string             `bson:"location" json:"location"`
	BudgetMin   float64            `bson:"budget_min" json:"budget_min"`
	BudgetMax   float64            `bson:"budget_max" json:"budget_max"`
	Urgent      bool               `bson:"urgent" json:"urgent"`
	Status      JobStatus          `bson:"status" json:"status"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}
