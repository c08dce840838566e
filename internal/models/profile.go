package models

import (
	"time"
)

// UserType is informational only; authorization decisions go by ownership of
// the job, proposal or deal, never by this flag.
type UserType string

const (
	UserTypeClient   UserType = "client"
	UserTypeProvider UserType = "provider"
)

// NotificationPreferences controls which events trigger an email on top of the
// stored notification row.
type NotificationPreferences struct {
	Proposal bool `bson:"proposal" json:"proposal"`
	Offer    bool `bson:"offer" json:"offer"`
	Deal     bool `bson:"deal" json:"deal"`
	Message  bool `bson:"message" json:"message"`
}

func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{Proposal: true, Offer: true, Deal: true, Message: false}
}

// Profile is a registered user, client or provider.
type Profile struct {
	Base                    `bson:",inline"`
	Email                   string                  `bson:"email" json:"email"`
	PasswordHash            string                  `bson:"password" json:"-"`
	FullName                string                  `bson:"full_name" json:"full_name"`
	Phone                   string                  `bson:"phone,omitempty" json:"phone,omitempty"`
	Location                string                  `bson:"location,omitempty" json:"location,omitempty"`
	UserType                UserType                `bson:"user_type" json:"user_type"`
	IsAdmin                 bool                    `bson:"is_admin" json:"is_admin"`
	Suspended               bool                    `bson:"suspended" json:"suspended"`
	NotificationPreferences NotificationPreferences `bson:"notification_preferences" json:"notification_preferences"`
	CreatedAt               time.Time               `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time               `bson:"updated_at" json:"updated_at"`
	Deleted                 bool                    `bson:"deleted" json:"-"`
}
