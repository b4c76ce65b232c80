package store

import (
	"context"
	"errors"

	"example.com/tweetapp/internal/models"
	"github.com/gocql/gocql"
)

func (s *Store) FindLikesByTweetID(ctx context.Context, tweetID int64) ([]models.Like, error) {
	iter := s.Session.Query(
		`SELECT user_id, like_id FROM likes_by_tweet WHERE tweet_id = ?`,
		tweetID,
	).WithContext(ctx).Iter()

	var res []models.Like
	var uid, lid int64
	for iter.Scan(&uid, &lid) {
		res = append(res, models.Like{TweetLikeID: lid, UserID: uid, TweetID: tweetID})
	}

	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list likes of tweet", err)
		return nil, err
	}
	return res, nil
}

// FindLikeByUserIDAndTweetID returns nil without an error when the user has
// not liked the tweet.
func (s *Store) FindLikeByUserIDAndTweetID(ctx context.Context, userID, tweetID int64) (*models.Like, error) {
	var lid int64
	err := s.Session.Query(
		`SELECT like_id FROM likes_by_tweet WHERE tweet_id = ? AND user_id = ?`,
		tweetID, userID,
	).WithContext(ctx).Scan(&lid)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		logg.Error("store", "Failed to query like", err)
		return nil, err
	}
	return &models.Like{TweetLikeID: lid, UserID: userID, TweetID: tweetID}, nil
}

// likeRows are the single-row writes behind the two like tables.
// likes_by_tweet holds the unique (tweet_id, user_id) claim and likes_by_id
// maps a like id back to that claim.
type likeRows interface {
	index(ctx context.Context, like models.Like) error
	unindex(ctx context.Context, likeID int64) error
	lookup(ctx context.Context, likeID int64) (*models.Like, error)
	claim(ctx context.Context, like models.Like) (bool, error)
	release(ctx context.Context, like models.Like) error
}

// SaveLike writes the id index first and then claims (tweet_id, user_id)
// with a lightweight transaction, so every visible like can be found by id.
// A concurrent duplicate yields ErrLikeExists.
func (s *Store) SaveLike(ctx context.Context, like models.Like) error {
	return saveLike(ctx, cqlLikes{s.Session}, like)
}

// DeleteLikeByID releases the claim only while it still carries likeID,
// then drops the index row.
func (s *Store) DeleteLikeByID(ctx context.Context, likeID int64) error {
	return deleteLike(ctx, cqlLikes{s.Session}, likeID)
}

func saveLike(ctx context.Context, rows likeRows, like models.Like) error {
	if err := rows.index(ctx, like); err != nil {
		logg.Error("store", "Failed to index like by id", err)
		return err
	}

	applied, err := rows.claim(ctx, like)
	if err == nil && applied {
		return nil
	}
	if err != nil {
		logg.Error("store", "Failed to insert like", err)
	} else {
		err = ErrLikeExists
	}
	if uerr := rows.unindex(ctx, like.TweetLikeID); uerr != nil {
		logg.Error("store", "Failed to drop index of unsaved like", uerr)
	}
	return err
}

func deleteLike(ctx context.Context, rows likeRows, likeID int64) error {
	like, err := rows.lookup(ctx, likeID)
	if err != nil {
		logg.Error("store", "Failed to query like by id", err)
		return err
	}
	if like == nil {
		return nil
	}
	if err := rows.release(ctx, *like); err != nil {
		logg.Error("store", "Failed to delete like", err)
		return err
	}
	if err := rows.unindex(ctx, likeID); err != nil {
		logg.Error("store", "Failed to delete like index", err)
		return err
	}
	return nil
}

type cqlLikes struct {
	session SessionInterface
}

func (c cqlLikes) index(ctx context.Context, like models.Like) error {
	return c.session.Query(`
		INSERT INTO likes_by_id (like_id, tweet_id, user_id)
		VALUES (?, ?, ?)`,
		like.TweetLikeID, like.TweetID, like.UserID,
	).WithContext(ctx).Exec()
}

func (c cqlLikes) unindex(ctx context.Context, likeID int64) error {
	return c.session.Query(
		`DELETE FROM likes_by_id WHERE like_id = ?`,
		likeID,
	).WithContext(ctx).Exec()
}

func (c cqlLikes) lookup(ctx context.Context, likeID int64) (*models.Like, error) {
	var tid, uid int64
	err := c.session.Query(
		`SELECT tweet_id, user_id FROM likes_by_id WHERE like_id = ?`,
		likeID,
	).WithContext(ctx).Scan(&tid, &uid)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &models.Like{TweetLikeID: likeID, TweetID: tid, UserID: uid}, nil
}

func (c cqlLikes) claim(ctx context.Context, like models.Like) (bool, error) {
	return c.session.Query(`
		INSERT INTO likes_by_tweet (tweet_id, user_id, like_id)
		VALUES (?, ?, ?) IF NOT EXISTS`,
		like.TweetID, like.UserID, like.TweetLikeID,
	).WithContext(ctx).MapScanCAS(make(map[string]interface{}))
}

// release is a no-op when the claim belongs to another like id.
func (c cqlLikes) release(ctx context.Context, like models.Like) error {
	_, err := c.session.Query(`
		DELETE FROM likes_by_tweet WHERE tweet_id = ? AND user_id = ?
		IF like_id = ?`,
		like.TweetID, like.UserID, like.TweetLikeID,
	).WithContext(ctx).MapScanCAS(make(map[string]interface{}))
	return err
}
