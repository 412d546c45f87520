package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/MADA-gnuBD/bikeops/internal/backend"
	"github.com/MADA-gnuBD/bikeops/models"
)

type fakeCommunity struct {
	mu        sync.Mutex
	posts     map[string]models.Post
	comments  map[string][]models.Comment
	lastQuery models.PostQuery
}

func notFound(op string) error {
	return &backend.Error{Op: op, Status: 404, Code: backend.CodeNotFound, Message: "post not found"}
}

func (c *fakeCommunity) ListPosts(_ context.Context, q models.PostQuery) (models.PostPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastQuery = q
	page := models.PostPage{Number: q.Page, Size: q.Size}
	for _, p := range c.posts {
		if q.Category == "" || p.Category == q.Category {
			page.Content = append(page.Content, p)
		}
	}
	page.TotalElements = int64(len(page.Content))
	return page, nil
}

func (c *fakeCommunity) GetPost(_ context.Context, id string) (models.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[id]
	if !ok {
		return models.Post{}, notFound("get post")
	}
	return p, nil
}

func (c *fakeCommunity) CreatePost(_ context.Context, in models.PostInput) (models.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := models.Post{ID: int64(len(c.posts) + 1), Title: in.Title, Content: in.Content, Category: in.Category}
	c.posts[strconv.FormatInt(p.ID, 10)] = p
	return p, nil
}

func (c *fakeCommunity) UpdatePost(_ context.Context, id string, in models.PostInput) (models.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[id]
	if !ok {
		return models.Post{}, notFound("update post")
	}
	p.Title, p.Content, p.Category = in.Title, in.Content, in.Category
	c.posts[id] = p
	return p, nil
}

func (c *fakeCommunity) DeletePost(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.posts[id]; !ok {
		return notFound("delete post")
	}
	delete(c.posts, id)
	return nil
}

func (c *fakeCommunity) LikePost(_ context.Context, id string) (models.Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[id]
	if !ok {
		return models.Post{}, notFound("like post")
	}
	p.Likes++
	c.posts[id] = p
	return p, nil
}

func (c *fakeCommunity) ListComments(_ context.Context, postID string) ([]models.Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comments[postID], nil
}

func (c *fakeCommunity) CreateComment(_ context.Context, postID string, in models.CommentInput) (models.Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.comments == nil {
		c.comments = map[string][]models.Comment{}
	}
	id, _ := strconv.ParseInt(postID, 10, 64)
	cm := models.Comment{ID: int64(len(c.comments[postID]) + 1), PostID: id, Content: in.Content}
	c.comments[postID] = append(c.comments[postID], cm)
	return cm, nil
}

func (c *fakeCommunity) UpdateComment(_ context.Context, postID, _ string, in models.CommentInput) (models.Comment, error) {
	return models.Comment{ID: 1, Content: in.Content}, nil
}

func (c *fakeCommunity) DeleteComment(context.Context, string, string) error { return nil }

func TestListPosts(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		query    string
		expected int
		posts    int
		size     int
	}{
		{"defaults", "", http.StatusOK, 1, 20},
		{"category", "?category=report&page=1&size=5", http.StatusOK, 1, 5},
		{"other category", "?category=notice", http.StatusOK, 0, 20},
		{"bad page", "?page=-1", http.StatusBadRequest, 0, 0},
		{"size too big", "?size=500", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/posts"+tt.query, "", nil)
			expectStatus(t, rec, tt.expected)
			if tt.expected != http.StatusOK {
				return
			}
			page := decode[models.PostPage](t, rec)
			if len(page.Content) != tt.posts {
				t.Errorf("posts = %d, expected %d", len(page.Content), tt.posts)
			}
			if page.Content == nil {
				t.Error("content should be an empty list, not null")
			}
			if env.community.lastQuery.Size != tt.size {
				t.Errorf("size = %d, expected %d", env.community.lastQuery.Size, tt.size)
			}
		})
	}
}

func TestPostLifecycle(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, "u-1", models.RoleUser)
	in := models.PostInput{Title: "  Low bikes at Seoul Station ", Content: "Empty since 8am", Category: "report"}

	expectStatus(t, env.do(t, http.MethodPost, "/api/posts", "", in), http.StatusUnauthorized)

	rec := env.do(t, http.MethodPost, "/api/posts", sess, in)
	expectStatus(t, rec, http.StatusCreated)
	created := decode[models.Post](t, rec)
	if created.Title != "Low bikes at Seoul Station" {
		t.Errorf("title = %q, expected it trimmed", created.Title)
	}
	id := itoa(created.ID)

	expectStatus(t, env.do(t, http.MethodGet, "/api/posts/"+id, "", nil), http.StatusOK)

	rec = env.do(t, http.MethodPost, "/api/posts/"+id+"/like", sess, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[models.Post](t, rec); got.Likes != 1 {
		t.Errorf("likes = %d, expected 1", got.Likes)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/posts/"+id+"/comments", sess, models.CommentInput{Content: "On my way"}), http.StatusCreated)
	rec = env.do(t, http.MethodGet, "/api/posts/"+id+"/comments", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[[]models.Comment](t, rec); len(got) != 1 || got[0].Content != "On my way" {
		t.Errorf("comments = %+v, expected the new comment", got)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/api/posts/"+id, sess, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/api/posts/"+id, "", nil), http.StatusNotFound)
}

func TestPostValidation(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, "u-1", models.RoleUser)

	tests := []struct {
		name string
		body any
	}{
		{"blank title", models.PostInput{Title: "   ", Content: "x", Category: "report"}},
		{"missing category", models.PostInput{Title: "t", Content: "x"}},
		{"broken json", `{"title":`},
		{"empty comment", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, body := "/api/posts", tt.body
			if body == nil {
				path, body = "/api/posts/1/comments", models.CommentInput{}
			}
			expectStatus(t, env.do(t, http.MethodPost, path, sess, body), http.StatusBadRequest)
		})
	}
}

func TestListCommentsEmpty(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/posts/1/comments", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := rec.Body.String(); body != "[]\n" && body != "[]" {
		t.Errorf("body = %q, expected an empty list", body)
	}
}
