package models

import (
	"errors"
	"strings"
	"time"
)

// PostQuery filters the community board listing
type PostQuery struct {
	Category string
	Search   string
	Sort     string
	Author   string
	Page     int
	Size     int
}

// Post is a community board post
type Post struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Category     string    `json:"category"`
	Author       string    `json:"author"`
	AuthorEmail  string    `json:"authorEmail,omitempty"`
	Likes        int       `json:"likes"`
	CommentCount int       `json:"commentCount"`
	Views        int       `json:"views"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PostPage is one page of posts as the backend returns it
type PostPage struct {
	Content       []Post `json:"content"`
	TotalElements int64  `json:"totalElements"`
	TotalPages    int    `json:"totalPages"`
	Number        int    `json:"number"`
	Size          int    `json:"size"`
}

// PostInput is the body of create and update
type PostInput struct {
	Title    string `json:"title" validate:"required,max=200"`
	Content  string `json:"content" validate:"required"`
	Category string `json:"category" validate:"required"`
}

// Validate trims and checks the post body
func (p *PostInput) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	p.Content = strings.TrimSpace(p.Content)
	if p.Title == "" {
		return errors.New("title is required")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// Comment is a reply on a post
type Comment struct {
	ID          int64     `json:"id"`
	PostID      int64     `json:"postId"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"authorEmail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CommentInput is the body of comment create and update
type CommentInput struct {
	Content string `json:"content" validate:"required,max=2000"`
}
