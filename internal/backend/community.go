package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MADA-gnuBD/bikeops/models"
)

func postPath(id string) string {
	return "/api/posts/" + url.PathEscape(id)
}

// ListPosts returns one page of community posts.
func (c *Client) ListPosts(ctx context.Context, q models.PostQuery) (models.PostPage, error) {
	v := url.Values{}
	setIf := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	setIf("category", q.Category)
	setIf("search", q.Search)
	setIf("sort", q.Sort)
	setIf("author", q.Author)
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Size > 0 {
		v.Set("size", strconv.Itoa(q.Size))
	}

	var page models.PostPage
	err := c.do(ctx, call{op: "list_posts", method: http.MethodGet, path: "/api/posts", query: v}, &page)
	return page, err
}

// GetPost returns one post.
func (c *Client) GetPost(ctx context.Context, id string) (models.Post, error) {
	var p models.Post
	err := c.do(ctx, call{op: "get_post", method: http.MethodGet, path: postPath(id)}, &p)
	return p, err
}

// CreatePost publishes a post as the signed-in user.
func (c *Client) CreatePost(ctx context.Context, in models.PostInput) (models.Post, error) {
	var p models.Post
	err := c.do(ctx, call{op: "create_post", method: http.MethodPost, path: "/api/posts", body: in}, &p)
	return p, err
}

// UpdatePost edits a post.
func (c *Client) UpdatePost(ctx context.Context, id string, in models.PostInput) (models.Post, error) {
	var p models.Post
	err := c.do(ctx, call{op: "update_post", method: http.MethodPut, path: postPath(id), body: in}, &p)
	return p, err
}

// DeletePost removes a post.
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, call{op: "delete_post", method: http.MethodDelete, path: postPath(id)}, nil)
}

// LikePost toggles the signed-in user's like and returns the updated post.
func (c *Client) LikePost(ctx context.Context, id string) (models.Post, error) {
	var p models.Post
	err := c.do(ctx, call{op: "like_post", method: http.MethodPost, path: postPath(id) + "/like"}, &p)
	return p, err
}

// ListComments returns the comments of a post.
func (c *Client) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	var out []models.Comment
	err := c.do(ctx, call{op: "list_comments", method: http.MethodGet, path: postPath(postID) + "/comments"}, &out)
	return out, err
}

// CreateComment replies to a post.
func (c *Client) CreateComment(ctx context.Context, postID string, in models.CommentInput) (models.Comment, error) {
	var out models.Comment
	err := c.do(ctx, call{op: "create_comment", method: http.MethodPost, path: postPath(postID) + "/comments", body: in}, &out)
	return out, err
}

// UpdateComment edits a comment.
func (c *Client) UpdateComment(ctx context.Context, postID, commentID string, in models.CommentInput) (models.Comment, error) {
	var out models.Comment
	path := postPath(postID) + "/comments/" + url.PathEscape(commentID)
	err := c.do(ctx, call{op: "update_comment", method: http.MethodPut, path: path, body: in}, &out)
	return out, err
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, postID, commentID string) error {
	path := postPath(postID) + "/comments/" + url.PathEscape(commentID)
	return c.do(ctx, call{op: "delete_comment", method: http.MethodDelete, path: path}, nil)
}
