package models

// Category is a service category jobs are posted under. Stored in the
// `categories` collection and cached in memory by the catalog service.
type Category struct {
	Base   `bson:",inline"`
	Slug   string `bson:"slug" json:"slug"` // e.g., "plumbing", "electrical", "tutoring"
	Name   string `bson:"name" json:"name"`
	Active bool   `bson:"active" json:"active"`
}
