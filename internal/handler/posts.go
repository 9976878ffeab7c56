package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/middleware"
	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/service"
	"github.com/chirp-social/realtime/pkg/logger"
)

// PostHandler handles post reactions.
type PostHandler struct {
	postService *service.PostService
	logger      *logger.Logger
}

// NewPostHandler creates a new post handler.
func NewPostHandler(postSvc *service.PostService, log *logger.Logger) *PostHandler {
	return &PostHandler{
		postService: postSvc,
		logger:      log,
	}
}

// Like handles POST /api/v1/post/{id}/like
func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.react(w, r, h.postService.Like, "Post liked")
}

// Dislike handles POST /api/v1/post/{id}/dislike
func (h *PostHandler) Dislike(w http.ResponseWriter, r *http.Request) {
	h.react(w, r, h.postService.Dislike, "Post disliked")
}

func (h *PostHandler) react(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, actorID, postID string) error,
	done string,
) {
	ctx := r.Context()
	postID := chi.URLParam(r, "id")

	if err := middleware.ValidateID("post", postID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := apply(ctx, middleware.GetUserID(ctx), postID); err != nil {
		status, text := statusFor(err)
		if status == http.StatusInternalServerError {
			middleware.RequestLogger(h.logger, r).Error("failed to update post likes",
				zap.String("post_id", postID),
				zap.Error(err),
			)
		}
		writeError(w, status, text)
		return
	}

	writeJSON(w, http.StatusOK, &model.PostActionResponse{
		Success: true,
		Message: done,
	})
}
