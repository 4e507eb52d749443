package models

import "time"

type User struct {
	ID    string `json:"id" bson:"_id"`
	Name  string `json:"name" bson:"name"`
	Email string `json:"email,omitempty" bson:"email"`
	Image string `json:"image,omitempty" bson:"image"`
}

// Assignee is the edge between a task and a user responsible for it.
type Assignee struct {
	TaskID    string    `json:"eventTaskId" bson:"taskId"`
	UserID    string    `json:"userId" bson:"userId"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	User      User      `json:"user" bson:"-"`
}

type Event struct {
	ID   string    `json:"id" bson:"_id"`
	Name string    `json:"name" bson:"name"`
	Date time.Time `json:"date" bson:"date"`
}
