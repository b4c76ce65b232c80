package models

import "time"

type User struct {
	UserID  int64  `json:"userId"`
	LoginID string `json:"loginId"`
}

// Tweet is a short text post. ParentTweetID is set only for replies and
// LikeCount is computed at read time, never stored.
type Tweet struct {
	TweetID       int64     `json:"tweetId"`
	UserID        int64     `json:"userId"`
	TweetDesc     string    `json:"tweetDesc"`
	CreatedDate   time.Time `json:"createdDate"`
	ParentTweetID *int64    `json:"parentTweetId,omitempty"`
	LikeCount     int       `json:"likeCount"`
}

type Like struct {
	TweetLikeID int64 `json:"tweetLikeId"`
	UserID      int64 `json:"userId"`
	TweetID     int64 `json:"tweetId"`
}

type MessageType string

const (
	Success MessageType = "SUCCESS"
	Failure MessageType = "FAILURE"
)

// Outcome tags how a tweet operation ended.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeUserNotExist
	OutcomeForbidden
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUserNotExist:
		return "user_not_exist"
	case OutcomeForbidden:
		return "forbidden"
	default:
		return "failure"
	}
}

// TweetResponse is what every tweet operation hands back to its caller.
// MessageCode doubles as the HTTP status.
type TweetResponse struct {
	Message     string      `json:"message"`
	MessageType MessageType `json:"messageType"`
	MessageCode int         `json:"messageCode"`
	TweetList   []Tweet     `json:"tweetList,omitempty"`
	Outcome     Outcome     `json:"-"`
}

// Int64Ptr is a small helper for optional ids.
func Int64Ptr(v int64) *int64 {
	return &v
}
