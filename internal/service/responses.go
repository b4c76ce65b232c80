package service

import (
	"net/http"

	"example.com/tweetapp/internal/models"
)

const (
	MsgSuccess      = "success"
	MsgFailure      = "failure"
	MsgNoTweet      = "no tweet found"
	MsgUserNotExist = "user not exist"
	MsgForbidden    = "tweet not owned by user"
	MsgLiked        = "tweet liked"
	MsgUnliked      = "tweet unliked"
)

// statusFor maps an outcome to the HTTP status carried in MessageCode.
// A missing acting user keeps the historical 500; callers that need to tell
// it apart from a real failure look at Outcome.
func statusFor(o models.Outcome) int {
	switch o {
	case models.OutcomeOK:
		return http.StatusOK
	case models.OutcomeNotFound:
		return http.StatusNotFound
	case models.OutcomeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func respond(o models.Outcome, msg string, tweets []models.Tweet) *models.TweetResponse {
	mt := models.Failure
	if o == models.OutcomeOK {
		mt = models.Success
	}
	return &models.TweetResponse{
		Message:     msg,
		MessageType: mt,
		MessageCode: statusFor(o),
		TweetList:   tweets,
		Outcome:     o,
	}
}

func ok(msg string) *models.TweetResponse {
	return respond(models.OutcomeOK, msg, nil)
}

func noTweet() *models.TweetResponse {
	return respond(models.OutcomeNotFound, MsgNoTweet, nil)
}

func userNotExist() *models.TweetResponse {
	return respond(models.OutcomeUserNotExist, MsgUserNotExist, nil)
}

func forbidden() *models.TweetResponse {
	return respond(models.OutcomeForbidden, MsgForbidden, nil)
}

func failure() *models.TweetResponse {
	return respond(models.OutcomeFailure, MsgFailure, nil)
}
