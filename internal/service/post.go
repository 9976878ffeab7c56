package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/store"
	"github.com/chirp-social/realtime/pkg/logger"
)

// PostService applies likes and dislikes, then notifies the post author.
type PostService struct {
	posts    store.Posts
	notifier *Notifier
	logger   *logger.Logger
}

// NewPostService creates a post service.
func NewPostService(posts store.Posts, notifier *Notifier, log *logger.Logger) *PostService {
	return &PostService{
		posts:    posts,
		notifier: notifier,
		logger:   log.Named("posts"),
	}
}

// Like adds actorID to the post's likes.
func (s *PostService) Like(ctx context.Context, actorID, postID string) error {
	return s.react(ctx, actorID, postID, model.NotificationLike)
}

// Dislike removes actorID from the post's likes.
func (s *PostService) Dislike(ctx context.Context, actorID, postID string) error {
	return s.react(ctx, actorID, postID, model.NotificationDislike)
}

func (s *PostService) react(ctx context.Context, actorID, postID string, typ model.NotificationType) error {
	if actorID == "" || postID == "" {
		return validationError("user and post are required")
	}

	ctx = context.WithoutCancel(ctx)
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return classify("load post", err)
	}

	if typ == model.NotificationLike {
		err = s.posts.AddLike(ctx, postID, actorID)
	} else {
		err = s.posts.RemoveLike(ctx, postID, actorID)
	}
	if err != nil {
		return classify("update likes", err)
	}

	delivered := s.notifier.Emit(ctx, actorID, post.AuthorID, typ, postID)
	s.logger.Debug("post reaction",
		zap.String("type", string(typ)),
		zap.String("post_id", postID),
		zap.String("actor_id", actorID),
		zap.Bool("notified", delivered),
	)
	return nil
}
