package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	appkafka "example.com/tweetapp/internal/broker"
	"example.com/tweetapp/internal/logger"
	"example.com/tweetapp/internal/metrics"
	"example.com/tweetapp/internal/models"
	"example.com/tweetapp/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var logg = logger.New()

// TweetService implements the tweet lifecycle on top of injected stores and
// the publish channel. It keeps no state between calls.
//
// No method returns an error: store and broker failures, and panics, are
// logged and turned into a FAILURE response.
type TweetService struct {
	users     store.UserDirectory
	tweets    store.TweetStore
	likes     store.LikeStore
	sequences store.SequenceGenerator
	publisher appkafka.Publisher
	tracer    trace.Tracer
	now       func() time.Time
}

func New(
	users store.UserDirectory,
	tweets store.TweetStore,
	likes store.LikeStore,
	sequences store.SequenceGenerator,
	publisher appkafka.Publisher,
	tracer trace.Tracer,
) *TweetService {
	return &TweetService{
		users:     users,
		tweets:    tweets,
		likes:     likes,
		sequences: sequences,
		publisher: publisher,
		tracer:    tracer,
		now:       time.Now,
	}
}

// finish is deferred by every operation. It converts a panic into a failure
// response, records the outcome and ends the span.
func (s *TweetService) finish(op string, span trace.Span, res **models.TweetResponse) {
	if r := recover(); r != nil {
		err := fmt.Errorf("panic: %v", r)
		logg.Error("service", "Unexpected failure in "+op, err)
		span.RecordError(err)
		*res = failure()
	}
	if *res == nil {
		*res = failure()
	}

	outcome := (*res).Outcome
	span.SetAttributes(attribute.String("tweet.outcome", outcome.String()))
	if outcome == models.OutcomeFailure {
		span.SetStatus(codes.Error, (*res).Message)
	}
	metrics.TweetOperationsTotal.WithLabelValues(op, outcome.String()).Inc()
	span.End()
}

func (s *TweetService) fail(span trace.Span, what string, err error) *models.TweetResponse {
	logg.Error("service", "Error while "+what, err)
	span.RecordError(err)
	return failure()
}

// withLikeCounts fills LikeCount from the like store.
func (s *TweetService) withLikeCounts(ctx context.Context, tweets []models.Tweet) ([]models.Tweet, error) {
	out := make([]models.Tweet, 0, len(tweets))
	for _, t := range tweets {
		likes, err := s.likes.FindLikesByTweetID(ctx, t.TweetID)
		if err != nil {
			return nil, err
		}
		t.LikeCount = len(likes)
		out = append(out, t)
	}
	return out, nil
}

// GetAllTweets lists every tweet with its like count.
func (s *TweetService) GetAllTweets(ctx context.Context) (res *models.TweetResponse) {
	ctx, span := s.tracer.Start(ctx, "TweetService.GetAllTweets")
	defer s.finish("get_all_tweets", span, &res)

	tweets, err := s.tweets.FindAllTweets(ctx)
	if err != nil {
		return s.fail(span, "getting all tweets", err)
	}
	if len(tweets) == 0 {
		return noTweet()
	}

	tweets, err = s.withLikeCounts(ctx, tweets)
	if err != nil {
		return s.fail(span, "counting likes", err)
	}
	return respond(models.OutcomeOK, MsgSuccess, tweets)
}

// GetAllTweetsOfUser lists the tweets owned by loginID.
func (s *TweetService) GetAllTweetsOfUser(ctx context.Context, loginID string) (res *models.TweetResponse) {
	ctx, span := s.tracer.Start(ctx, "TweetService.GetAllTweetsOfUser")
	defer s.finish("get_all_tweets_of_user", span, &res)

	user, err := s.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return s.fail(span, "getting all tweets of user", err)
	}
	if user == nil {
		return userNotExist()
	}

	tweets, err := s.tweets.FindTweetsByUserID(ctx, user.UserID)
	if err != nil {
		return s.fail(span, "getting all tweets of user", err)
	}
	if len(tweets) == 0 {
		return noTweet()
	}

	tweets, err = s.withLikeCounts(ctx, tweets)
	if err != nil {
		return s.fail(span, "counting likes", err)
	}
	return respond(models.OutcomeOK, MsgSuccess, tweets)
}

// UpdateTweet replaces the text of tweet id. Everything else is kept from
// the stored row, whatever the caller sent.
func (s *TweetService) UpdateTweet(ctx context.Context, loginID string, id int64, tweet models.Tweet) (res *models.TweetResponse) {
	ctx, span := s.tracer.Start(ctx, "TweetService.UpdateTweet",
		trace.WithAttributes(attribute.Int64("tweet.id", id)))
	defer s.finish("update_tweet", span, &res)

	user, err := s.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return s.fail(span, "updating tweet", err)
	}
	if user == nil {
		return userNotExist()
	}

	existing, err := s.tweets.FindTweetByID(ctx, id)
	if err != nil {
		return s.fail(span, "updating tweet", err)
	}
	if existing == nil {
		return noTweet()
	}
	if existing.UserID != user.UserID {
		return forbidden()
	}

	updated := models.Tweet{
		TweetID:       id,
		UserID:        user.UserID,
		TweetDesc:     tweet.TweetDesc,
		CreatedDate:   existing.CreatedDate,
		ParentTweetID: existing.ParentTweetID,
	}
	if err := s.tweets.SaveTweet(ctx, updated); err != nil {
		return s.fail(span, "updating tweet", err)
	}
	return ok(MsgSuccess)
}

// PostNewTweet assigns an id and hands the tweet to the publish channel.
// Success means the broker accepted it; the tweet shows up in reads once the
// worker has stored it.
func (s *TweetService) PostNewTweet(ctx context.Context, loginID string, tweet models.Tweet) (res *models.TweetResponse) {
	ctx, span := s.tracer.Start(ctx, "TweetService.PostNewTweet")
	defer s.finish("post_new_tweet", span, &res)

	return s.publishNew(ctx, span, loginID, tweet)
}

// publishNew stamps and publishes tweet under the caller's span. It does not
// record the operation itself.
func (s *TweetService) publishNew(ctx context.Context, span trace.Span, loginID string, tweet models.Tweet) *models.TweetResponse {
	user, err := s.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return s.fail(span, "posting new tweet", err)
	}
	if user == nil {
		return userNotExist()
	}

	id, err := s.sequences.NextSequence(ctx, store.TweetSequence)
	if err != nil {
		return s.fail(span, "assigning tweet id", err)
	}

	tweet.TweetID = id
	tweet.UserID = user.UserID
	tweet.CreatedDate = s.now().UTC()
	tweet.LikeCount = 0
	span.SetAttributes(attribute.Int64("tweet.id", id))

	if err := s.publisher.PublishTweet(ctx, tweet); err != nil {
		return s.fail(span, "publishing new tweet", err)
	}
	metrics.TweetsPublished.Inc()
	return ok(MsgSuccess)
}

// DeleteTweet removes tweet id and the likes pointing at it.
func (s *TweetService) DeleteTweet(ctx context.Context, loginID string, id int64) (res *models.TweetResponse) {
	ctx, span := s.tracer.Start(ctx, "TweetService.DeleteTweet",
		trace.WithAttributes(attribute.Int64("tweet.id", id)))
	defer s.finish("delete_tweet", span, &res)

	user, err := s.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return s.fail(span, "deleting tweet", err)
	}
	if user == nil {
		return userNotExist()
	}

	existing, err := s.tweets.FindTweetByID(ctx, id)
	if err != nil {
		return s.fail(span, "deleting tweet", err)
	}
	if existing == nil {
		return noTweet()
	}
	if existing.UserID != user.UserID {
		return forbidden()
	}

	if err := s.tweets.DeleteTweetByID(ctx, id); err != nil {
		return s.fail(span, "deleting tweet", err)
	}
	s.dropLikes(ctx, id)
	return ok(MsgSuccess)
}

// dropLikes is best effort; orphaned likes are invisible once the tweet is gone.
func (s *TweetService) dropLikes(ctx context.Context, tweetID int64) {
	likes, err := s.likes.FindLikesByTweetID(ctx, tweetID)
	if err != nil {
		logg.Error("service", "Failed to list likes of deleted tweet", err)
		return
	}
	for _, l := range likes {
		if err := s.likes.DeleteLikeByID(ctx, l.TweetLikeID); err != nil {
			logg.Error("service", "Failed to delete like of deleted tweet", err)
		}
	}
}

// LikeTweet toggles the acting user's like on tweet id.
func (s *TweetService) LikeTweet(ctx context.Context, loginID string, id int64) (res *models.TweetResponse) {
	ctx, span := s.tracer.Start(ctx, "TweetService.LikeTweet",
		trace.WithAttributes(attribute.Int64("tweet.id", id)))
	defer s.finish("like_tweet", span, &res)

	user, err := s.users.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return s.fail(span, "liking tweet", err)
	}
	if user == nil {
		return userNotExist()
	}

	tweet, err := s.tweets.FindTweetByID(ctx, id)
	if err != nil {
		return s.fail(span, "liking tweet", err)
	}
	if tweet == nil {
		return noTweet()
	}

	existing, err := s.likes.FindLikeByUserIDAndTweetID(ctx, user.UserID, tweet.TweetID)
	if err != nil {
		return s.fail(span, "liking tweet", err)
	}
	if existing != nil {
		if err := s.likes.DeleteLikeByID(ctx, existing.TweetLikeID); err != nil {
			return s.fail(span, "unliking tweet", err)
		}
		return ok(MsgUnliked)
	}

	likeID, err := s.sequences.NextSequence(ctx, store.TweetLikeSequence)
	if err != nil {
		return s.fail(span, "assigning like id", err)
	}
	err = s.likes.SaveLike(ctx, models.Like{
		TweetLikeID: likeID,
		UserID:      user.UserID,
		TweetID:     tweet.TweetID,
	})
	if err != nil && !errors.Is(err, store.ErrLikeExists) {
		return s.fail(span, "liking tweet", err)
	}
	// ErrLikeExists: a concurrent call liked it first, the tweet is liked either way
	return ok(MsgLiked)
}

// ReplyToTweet posts tweet as a reply to tweet id.
func (s *TweetService) ReplyToTweet(ctx context.Context, loginID string, id int64, tweet models.Tweet) (res *models.TweetResponse) {
	ctx, span := s.tracer.Start(ctx, "TweetService.ReplyToTweet",
		trace.WithAttributes(attribute.Int64("tweet.parent_id", id)))
	defer s.finish("reply_to_tweet", span, &res)

	parent, err := s.tweets.FindTweetByID(ctx, id)
	if err != nil {
		return s.fail(span, "replying to tweet", err)
	}
	if parent == nil {
		return noTweet()
	}

	tweet.ParentTweetID = models.Int64Ptr(parent.TweetID)
	return s.publishNew(ctx, span, loginID, tweet)
}
