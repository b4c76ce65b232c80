package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"example.com/tweetapp/internal/models"
)

// MockStore keeps everything in memory. It backs the tests and STORE=memory.
type MockStore struct {
	mu         sync.Mutex
	Users      map[string]int64
	Tweets     map[int64]models.Tweet
	Likes      map[int64]models.Like
	Sequences  map[string]int64
	ShouldFail bool // flag to simulate failures
}

// NewMock initializes a new mock store
func NewMock() *MockStore {
	return &MockStore{
		Users:     make(map[string]int64),
		Tweets:    make(map[int64]models.Tweet),
		Likes:     make(map[int64]models.Like),
		Sequences: make(map[string]int64),
	}
}

func (m *MockStore) Close() {}

func (m *MockStore) fail(op string) error {
	if m.ShouldFail {
		return errors.New("mock: " + op + " failed")
	}
	return nil
}

// FindUserByLoginID returns nil when the login id is unknown
func (m *MockStore) FindUserByLoginID(ctx context.Context, loginID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find user"); err != nil {
		return nil, err
	}
	id, ok := m.Users[loginID]
	if !ok {
		return nil, nil
	}
	return &models.User{UserID: id, LoginID: loginID}, nil
}

// CreateUser registers a login id or returns the existing user
func (m *MockStore) CreateUser(ctx context.Context, loginID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create user"); err != nil {
		return nil, err
	}
	if id, ok := m.Users[loginID]; ok {
		return &models.User{UserID: id, LoginID: loginID}, nil
	}
	m.Sequences[UserSequence]++
	id := m.Sequences[UserSequence]
	m.Users[loginID] = id
	return &models.User{UserID: id, LoginID: loginID}, nil
}

// AddUser registers a login id under a fixed user id
func (m *MockStore) AddUser(loginID string, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[loginID] = userID
}

func (m *MockStore) FindAllTweets(ctx context.Context) ([]models.Tweet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find all tweets"); err != nil {
		return nil, err
	}
	return m.sortedTweets(func(models.Tweet) bool { return true }), nil
}

func (m *MockStore) FindTweetsByUserID(ctx context.Context, userID int64) ([]models.Tweet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find tweets by user"); err != nil {
		return nil, err
	}
	return m.sortedTweets(func(t models.Tweet) bool { return t.UserID == userID }), nil
}

func (m *MockStore) sortedTweets(keep func(models.Tweet) bool) []models.Tweet {
	var res []models.Tweet
	for _, t := range m.Tweets {
		if keep(t) {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TweetID < res[j].TweetID })
	return res
}

func (m *MockStore) FindTweetByID(ctx context.Context, tweetID int64) (*models.Tweet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find tweet"); err != nil {
		return nil, err
	}
	t, ok := m.Tweets[tweetID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MockStore) SaveTweet(ctx context.Context, tweet models.Tweet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save tweet"); err != nil {
		return err
	}
	tweet.LikeCount = 0
	m.Tweets[tweet.TweetID] = tweet
	return nil
}

func (m *MockStore) DeleteTweetByID(ctx context.Context, tweetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete tweet"); err != nil {
		return err
	}
	delete(m.Tweets, tweetID)
	return nil
}

func (m *MockStore) FindLikesByTweetID(ctx context.Context, tweetID int64) ([]models.Like, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find likes"); err != nil {
		return nil, err
	}
	var res []models.Like
	for _, l := range m.Likes {
		if l.TweetID == tweetID {
			res = append(res, l)
		}
	}
	return res, nil
}

func (m *MockStore) FindLikeByUserIDAndTweetID(ctx context.Context, userID, tweetID int64) (*models.Like, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("find like"); err != nil {
		return nil, err
	}
	for _, l := range m.Likes {
		if l.UserID == userID && l.TweetID == tweetID {
			return &l, nil
		}
	}
	return nil, nil
}

// SaveLike refuses a second like for the same (user, tweet) pair
func (m *MockStore) SaveLike(ctx context.Context, like models.Like) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save like"); err != nil {
		return err
	}
	for _, l := range m.Likes {
		if l.UserID == like.UserID && l.TweetID == like.TweetID {
			return ErrLikeExists
		}
	}
	m.Likes[like.TweetLikeID] = like
	return nil
}

func (m *MockStore) DeleteLikeByID(ctx context.Context, likeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete like"); err != nil {
		return err
	}
	delete(m.Likes, likeID)
	return nil
}

func (m *MockStore) NextSequence(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("next sequence"); err != nil {
		return 0, err
	}
	m.Sequences[name]++
	return m.Sequences[name], nil
}

// ---------------------------------------------
// MockStoreFail always returns errors for negative tests
type MockStoreFail struct{}

var errMockFail = errors.New("mock store failed")

func (m *MockStoreFail) Close() {}

func (m *MockStoreFail) FindUserByLoginID(ctx context.Context, loginID string) (*models.User, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) CreateUser(ctx context.Context, loginID string) (*models.User, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) FindAllTweets(ctx context.Context) ([]models.Tweet, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) FindTweetsByUserID(ctx context.Context, userID int64) ([]models.Tweet, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) FindTweetByID(ctx context.Context, tweetID int64) (*models.Tweet, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) SaveTweet(ctx context.Context, tweet models.Tweet) error {
	return errMockFail
}

func (m *MockStoreFail) DeleteTweetByID(ctx context.Context, tweetID int64) error {
	return errMockFail
}

func (m *MockStoreFail) FindLikesByTweetID(ctx context.Context, tweetID int64) ([]models.Like, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) FindLikeByUserIDAndTweetID(ctx context.Context, userID, tweetID int64) (*models.Like, error) {
	return nil, errMockFail
}

func (m *MockStoreFail) SaveLike(ctx context.Context, like models.Like) error {
	return errMockFail
}

func (m *MockStoreFail) DeleteLikeByID(ctx context.Context, likeID int64) error {
	return errMockFail
}

func (m *MockStoreFail) NextSequence(ctx context.Context, name string) (int64, error) {
	return 0, errMockFail
}
