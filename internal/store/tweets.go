package store

import (
	"context"
	"errors"
	"time"

	"example.com/tweetapp/internal/models"
	"github.com/gocql/gocql"
)

// --- User operations ---

// FindUserByLoginID returns the user registered under loginID.
// If the user does not exist, it returns nil without an error.
func (s *Store) FindUserByLoginID(ctx context.Context, loginID string) (*models.User, error) {
	var id int64
	err := s.Session.Query(
		`SELECT user_id FROM users_by_login WHERE login_id = ?`,
		loginID,
	).WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		logg.Error("store", "Failed to query user by login id", err)
		return nil, err
	}
	return &models.User{UserID: id, LoginID: loginID}, nil
}

// CreateUser registers loginID under a fresh user id.
// Returns the existing user if the login id is already taken.
func (s *Store) CreateUser(ctx context.Context, loginID string) (*models.User, error) {
	existing, err := s.FindUserByLoginID(ctx, loginID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	id, err := s.NextSequence(ctx, UserSequence)
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO users_by_login (login_id, user_id)
		VALUES (?, ?) IF NOT EXISTS`,
		loginID, id,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to create login entry", err)
		return nil, err
	}

	if !applied {
		// Another process already registered this login id
		return s.FindUserByLoginID(ctx, loginID)
	}

	logg.Info("store", "User created successfully (login id anonymized)")
	return &models.User{UserID: id, LoginID: loginID}, nil
}

// --- Tweet operations ---

const tweetColumns = `tweet_id, user_id, tweet_desc, created_date, parent_tweet_id`

func scanTweets(iter *gocql.Iter) ([]models.Tweet, error) {
	var res []models.Tweet
	var (
		tid, uid int64
		desc     string
		created  time.Time
		parent   *int64
	)

	for iter.Scan(&tid, &uid, &desc, &created, &parent) {
		t := models.Tweet{
			TweetID:     tid,
			UserID:      uid,
			TweetDesc:   desc,
			CreatedDate: created,
		}
		if parent != nil {
			t.ParentTweetID = models.Int64Ptr(*parent)
		}
		res = append(res, t)
		parent = nil
	}

	if err := iter.Close(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) FindAllTweets(ctx context.Context) ([]models.Tweet, error) {
	iter := s.Session.Query(`SELECT ` + tweetColumns + ` FROM tweets`).WithContext(ctx).Iter()

	res, err := scanTweets(iter)
	if err != nil {
		logg.Error("store", "Failed to list tweets", err)
		return nil, err
	}
	return res, nil
}

func (s *Store) FindTweetsByUserID(ctx context.Context, userID int64) ([]models.Tweet, error) {
	iter := s.Session.Query(
		`SELECT `+tweetColumns+` FROM tweets_by_user WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter()

	res, err := scanTweets(iter)
	if err != nil {
		logg.Error("store", "Failed to list tweets of user", err)
		return nil, err
	}
	return res, nil
}

// FindTweetByID returns nil without an error when the tweet does not exist.
func (s *Store) FindTweetByID(ctx context.Context, tweetID int64) (*models.Tweet, error) {
	t := models.Tweet{TweetID: tweetID}
	err := s.Session.Query(
		`SELECT user_id, tweet_desc, created_date, parent_tweet_id FROM tweets WHERE tweet_id = ?`,
		tweetID,
	).WithContext(ctx).Scan(&t.UserID, &t.TweetDesc, &t.CreatedDate, &t.ParentTweetID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, nil
		}
		logg.Error("store", "Failed to query tweet by id", err)
		return nil, err
	}
	return &t, nil
}

// SaveTweet upserts the tweet into both tweet tables, so replaying the same
// tweet is harmless.
func (s *Store) SaveTweet(ctx context.Context, tweet models.Tweet) error {
	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO tweets (`+tweetColumns+`) VALUES (?, ?, ?, ?, ?)`,
		tweet.TweetID, tweet.UserID, tweet.TweetDesc, tweet.CreatedDate, tweet.ParentTweetID)
	batch.Query(`INSERT INTO tweets_by_user (`+tweetColumns+`) VALUES (?, ?, ?, ?, ?)`,
		tweet.TweetID, tweet.UserID, tweet.TweetDesc, tweet.CreatedDate, tweet.ParentTweetID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to save tweet", err)
		return err
	}

	logg.Debug("store", "Tweet saved (content anonymized)")
	return nil
}

func (s *Store) DeleteTweetByID(ctx context.Context, tweetID int64) error {
	t, err := s.FindTweetByID(ctx, tweetID)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM tweets WHERE tweet_id = ?`, tweetID)
	batch.Query(`DELETE FROM tweets_by_user WHERE user_id = ? AND tweet_id = ?`, t.UserID, tweetID)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to delete tweet", err)
		return err
	}

	logg.Debug("store", "Tweet deleted")
	return nil
}
