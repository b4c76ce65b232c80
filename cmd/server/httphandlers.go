package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"unicode/utf8"

	"example.com/tweetapp/internal/middleware"
	"example.com/tweetapp/internal/models"
	"github.com/gorilla/mux"
)

const maxTweetLength = 280

// --- HTTP Handlers ---

// registerHandler creates the user if needed and hands back a token.
// Expects JSON body: {"username": "alice"}
// Returns JSON response: {"user_id": <id>, "login_id": "alice", "token": "..."}
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	type req struct {
		Username string `json:"username"`
	}
	var body req

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error("http/register", "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(body.Username) == 0 || len(body.Username) > 50 {
		logg.Info("http/register", "Invalid username length")
		http.Error(w, "username must be 1-50 characters", http.StatusBadRequest)
		return
	}

	user, err := s.users.FindUserByLoginID(r.Context(), body.Username)
	if err != nil {
		logg.Error("http/register", "Failed to query existing username", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if user == nil {
		user, err = s.users.CreateUser(r.Context(), body.Username)
		if err != nil {
			logg.Error("http/register", "Failed to create user", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		logg.Info("http/register", "User created successfully with user_id="+strconv.FormatInt(user.UserID, 10))
	} else {
		logg.Info("http/register", "User already exists, returning existing user_id="+strconv.FormatInt(user.UserID, 10))
	}

	token, err := middleware.IssueToken(s.jwtSecret, user.LoginID, s.jwtTTL)
	if err != nil {
		logg.Error("http/register", "Failed to sign token", err)
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.UserID,
		"login_id": user.LoginID,
		"token":    token,
	})
}

func (s *Server) getAllTweetsHandler(w http.ResponseWriter, r *http.Request) {
	writeTweetResponse(w, s.svc.GetAllTweets(r.Context()))
}

// getUserTweetsHandler is readable by any authenticated user.
func (s *Server) getUserTweetsHandler(w http.ResponseWriter, r *http.Request) {
	writeTweetResponse(w, s.svc.GetAllTweetsOfUser(r.Context(), mux.Vars(r)["username"]))
}

func (s *Server) postTweetHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.actingUser(w, r, "http/add")
	if !ok {
		return
	}
	tweet, ok := decodeTweet(w, r, "http/add")
	if !ok {
		return
	}
	writeTweetResponse(w, s.svc.PostNewTweet(r.Context(), username, tweet))
}

func (s *Server) updateTweetHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.actingUser(w, r, "http/update")
	if !ok {
		return
	}
	id, ok := tweetID(w, r, "http/update")
	if !ok {
		return
	}
	tweet, ok := decodeTweet(w, r, "http/update")
	if !ok {
		return
	}
	writeTweetResponse(w, s.svc.UpdateTweet(r.Context(), username, id, tweet))
}

func (s *Server) deleteTweetHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.actingUser(w, r, "http/delete")
	if !ok {
		return
	}
	id, ok := tweetID(w, r, "http/delete")
	if !ok {
		return
	}
	writeTweetResponse(w, s.svc.DeleteTweet(r.Context(), username, id))
}

func (s *Server) likeTweetHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.actingUser(w, r, "http/like")
	if !ok {
		return
	}
	id, ok := tweetID(w, r, "http/like")
	if !ok {
		return
	}
	writeTweetResponse(w, s.svc.LikeTweet(r.Context(), username, id))
}

func (s *Server) replyTweetHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.actingUser(w, r, "http/reply")
	if !ok {
		return
	}
	id, ok := tweetID(w, r, "http/reply")
	if !ok {
		return
	}
	tweet, ok := decodeTweet(w, r, "http/reply")
	if !ok {
		return
	}
	writeTweetResponse(w, s.svc.ReplyToTweet(r.Context(), username, id, tweet))
}

// --- helpers ---

// actingUser returns {username} from the path if it matches the token.
func (s *Server) actingUser(w http.ResponseWriter, r *http.Request, module string) (string, bool) {
	loginID, ok := middleware.LoginIDFromContext(r.Context())
	if !ok {
		logg.Info(module, "Unauthorized attempt")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}

	username := mux.Vars(r)["username"]
	if username != loginID {
		logg.Info(module, "login_id="+loginID+" tried to act as login_id="+username)
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return username, true
}

func tweetID(w http.ResponseWriter, r *http.Request, module string) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		logg.Info(module, "Invalid tweet id "+raw)
		http.Error(w, "invalid tweet id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeTweet reads {"tweetDesc": "..."}; any other field is ignored.
func decodeTweet(w http.ResponseWriter, r *http.Request, module string) (models.Tweet, bool) {
	type req struct {
		TweetDesc string `json:"tweetDesc"`
	}
	var body req

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logg.Error(module, "Invalid request body", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return models.Tweet{}, false
	}
	defer r.Body.Close()

	if n := utf8.RuneCountInString(body.TweetDesc); n == 0 || n > maxTweetLength {
		logg.Info(module, "Tweet text length invalid")
		http.Error(w, "tweet must be 1-280 characters", http.StatusBadRequest)
		return models.Tweet{}, false
	}
	return models.Tweet{TweetDesc: body.TweetDesc}, true
}

func writeTweetResponse(w http.ResponseWriter, res *models.TweetResponse) {
	writeJSON(w, res.MessageCode, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logg.Error("http", "Failed to encode response", err)
	}
}
