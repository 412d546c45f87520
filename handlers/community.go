package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MADA-gnuBD/bikeops/models"
)

// CommunityClient is the community board part of the backend
type CommunityClient interface {
	ListPosts(ctx context.Context, q models.PostQuery) (models.PostPage, error)
	GetPost(ctx context.Context, id string) (models.Post, error)
	CreatePost(ctx context.Context, in models.PostInput) (models.Post, error)
	UpdatePost(ctx context.Context, id string, in models.PostInput) (models.Post, error)
	DeletePost(ctx context.Context, id string) error
	LikePost(ctx context.Context, id string) (models.Post, error)
	ListComments(ctx context.Context, postID string) ([]models.Comment, error)
	CreateComment(ctx context.Context, postID string, in models.CommentInput) (models.Comment, error)
	UpdateComment(ctx context.Context, postID, commentID string, in models.CommentInput) (models.Comment, error)
	DeleteComment(ctx context.Context, postID, commentID string) error
}

// CommunityHandler passes community board requests to the backend
type CommunityHandler struct {
	client CommunityClient
}

// NewCommunityHandler creates a community handler
func NewCommunityHandler(client CommunityClient) *CommunityHandler {
	return &CommunityHandler{client: client}
}

// ListPosts handles GET /api/posts
func (h *CommunityHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.PostQuery{
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
		Author:   q.Get("author"),
		Size:     20,
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "page must be a non-negative integer", nil)
			return
		}
		query.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "size must be between 1 and 100", nil)
			return
		}
		query.Size = n
	}

	page, err := h.client.ListPosts(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, "list posts", err)
		return
	}
	if page.Content == nil {
		page.Content = []models.Post{}
	}
	writeJSON(w, http.StatusOK, page)
}

// GetPost handles GET /api/posts/{postId}
func (h *CommunityHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.client.GetPost(r.Context(), chi.URLParam(r, "postId"))
	if err != nil {
		writeServiceError(w, r, "load post", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreatePost handles POST /api/posts
func (h *CommunityHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var in models.PostInput
	if !decodeBody(w, r, &in) {
		return
	}
	p, err := h.client.CreatePost(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "create post", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdatePost handles PUT /api/posts/{postId}
func (h *CommunityHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var in models.PostInput
	if !decodeBody(w, r, &in) {
		return
	}
	p, err := h.client.UpdatePost(r.Context(), chi.URLParam(r, "postId"), in)
	if err != nil {
		writeServiceError(w, r, "update post", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePost handles DELETE /api/posts/{postId}
func (h *CommunityHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.client.DeletePost(r.Context(), chi.URLParam(r, "postId")); err != nil {
		writeServiceError(w, r, "delete post", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LikePost handles POST /api/posts/{postId}/like
func (h *CommunityHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	p, err := h.client.LikePost(r.Context(), chi.URLParam(r, "postId"))
	if err != nil {
		writeServiceError(w, r, "like post", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListComments handles GET /api/posts/{postId}/comments
func (h *CommunityHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.client.ListComments(r.Context(), chi.URLParam(r, "postId"))
	if err != nil {
		writeServiceError(w, r, "list comments", err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// CreateComment handles POST /api/posts/{postId}/comments
func (h *CommunityHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var in models.CommentInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := h.client.CreateComment(r.Context(), chi.URLParam(r, "postId"), in)
	if err != nil {
		writeServiceError(w, r, "create comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// UpdateComment handles PUT /api/posts/{postId}/comments/{commentId}
func (h *CommunityHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	var in models.CommentInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := h.client.UpdateComment(r.Context(), chi.URLParam(r, "postId"), chi.URLParam(r, "commentId"), in)
	if err != nil {
		writeServiceError(w, r, "update comment", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteComment handles DELETE /api/posts/{postId}/comments/{commentId}
func (h *CommunityHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.client.DeleteComment(r.Context(), chi.URLParam(r, "postId"), chi.URLParam(r, "commentId")); err != nil {
		writeServiceError(w, r, "delete comment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
