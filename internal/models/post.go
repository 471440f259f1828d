package models

import (
	"time"
)

// MediaType classifies an attachment.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Media is the optional attachment of a post. Name is the storage key used
// when the file has to be quarantined.
type Media struct {
	Type MediaType `gorm:"size:16" json:"type"`
	URL  string    `json:"url"`
	Name string    `json:"-"`
}

// IsZero reports whether the post carries no attachment.
func (m Media) IsZero() bool {
	return m.URL == "" && m.Name == ""
}

// DefaultCategory is applied when a post is created without one.
const DefaultCategory = "academics"

// Post is authored by exactly one account and owns its likes and comments.
type Post struct {
	BaseModel

	OwnerID  string   `gorm:"type:uuid;not null;index" json:"owner_id"`
	Owner    *Account `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Content  string   `gorm:"type:text" json:"content"`
	Media    Media    `gorm:"embedded;embeddedPrefix:media_" json:"media"`
	Category string   `gorm:"not null;size:32;index;default:academics" json:"category"`

	Likes    []PostLike `gorm:"foreignKey:PostID" json:"-"`
	Comments []Comment  `gorm:"foreignKey:PostID" json:"-"`
}

// PostLike records membership of an account in a post's liker set. The
// composite primary key keeps each account in the set at most once.
type PostLike struct {
	PostID    string    `gorm:"primaryKey;type:uuid" json:"post_id"`
	AccountID string    `gorm:"primaryKey;type:uuid;index" json:"account_id"`
	Account   *Account  `gorm:"foreignKey:AccountID" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment belongs to a post and is individually addressable for deletion.
type Comment struct {
	BaseModel

	PostID   string   `gorm:"type:uuid;not null;index" json:"post_id"`
	AuthorID string   `gorm:"type:uuid;not null;index" json:"author_id"`
	Author   *Account `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Body     string   `gorm:"type:text;not null" json:"body"`
}
