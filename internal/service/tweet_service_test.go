package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	appkafka "example.com/tweetapp/internal/broker"
	"example.com/tweetapp/internal/models"
	"example.com/tweetapp/internal/store"
	"example.com/tweetapp/internal/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

//
// --- Helpers ---
//

type fixture struct {
	svc   *TweetService
	store *store.MockStore
	kafka *appkafka.MockKafka
}

// newFixture wires the service to the in-memory store. The mock broker saves
// published tweets straight away, playing the part of the worker.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMock()
	st.AddUser("alice", 1)
	st.AddUser("bob", 2)

	mk := &appkafka.MockKafka{Store: st}
	svc := New(st, st, st, st, appkafka.NewTweetPublisher(mk, appkafka.BreakerConfig{}), tracing.Noop())
	return &fixture{svc: svc, store: st, kafka: mk}
}

func expect(t *testing.T, res *models.TweetResponse, outcome models.Outcome, status int) {
	t.Helper()
	if res == nil {
		t.Fatalf("nil response")
	}
	if res.Outcome != outcome || res.MessageCode != status {
		t.Fatalf("expected %s/%d, got %s/%d (%q)", outcome, status, res.Outcome, res.MessageCode, res.Message)
	}
	wantType := models.Failure
	if outcome == models.OutcomeOK {
		wantType = models.Success
	}
	if res.MessageType != wantType {
		t.Fatalf("expected message type %s, got %s", wantType, res.MessageType)
	}
}

func seedTweet(t *testing.T, st *store.MockStore, id, userID int64, desc string) models.Tweet {
	t.Helper()
	tw := models.Tweet{TweetID: id, UserID: userID, TweetDesc: desc, CreatedDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	if err := st.SaveTweet(context.Background(), tw); err != nil {
		t.Fatalf("seed tweet: %v", err)
	}
	return tw
}

//
// --- Tests ---
//

// alice posts twice; ids increase and both tweets are listed with no likes
func TestPostAndListScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Sequences[store.TweetSequence] = 99

	expect(t, f.svc.PostNewTweet(ctx, "alice", models.Tweet{TweetDesc: "hello"}), models.OutcomeOK, http.StatusOK)
	expect(t, f.svc.PostNewTweet(ctx, "alice", models.Tweet{TweetDesc: "world"}), models.OutcomeOK, http.StatusOK)

	res := f.svc.GetAllTweetsOfUser(ctx, "alice")
	expect(t, res, models.OutcomeOK, http.StatusOK)
	if len(res.TweetList) != 2 {
		t.Fatalf("expected 2 tweets, got %d", len(res.TweetList))
	}
	if res.TweetList[0].TweetID != 100 || res.TweetList[0].TweetDesc != "hello" {
		t.Fatalf("unexpected first tweet %+v", res.TweetList[0])
	}
	if res.TweetList[1].TweetID != 101 || res.TweetList[1].TweetDesc != "world" {
		t.Fatalf("unexpected second tweet %+v", res.TweetList[1])
	}
	for _, tw := range res.TweetList {
		if tw.LikeCount != 0 || tw.UserID != 1 {
			t.Fatalf("unexpected tweet %+v", tw)
		}
	}
}

func TestPostNewTweet_IdsStrictlyIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		expect(t, f.svc.PostNewTweet(ctx, "bob", models.Tweet{TweetDesc: "x"}), models.OutcomeOK, http.StatusOK)
	}

	var last int64
	for _, msg := range f.kafka.Written() {
		tw, err := appkafka.DecodeTweet(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if tw.TweetID <= last {
			t.Fatalf("ids not strictly increasing: %d after %d", tw.TweetID, last)
		}
		last = tw.TweetID
	}
}

func TestPostNewTweet_StampsOwnerAndDate(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	in := models.Tweet{TweetID: 999, UserID: 42, TweetDesc: "mine", CreatedDate: time.Unix(0, 0), LikeCount: 7}
	expect(t, f.svc.PostNewTweet(context.Background(), "bob", in), models.OutcomeOK, http.StatusOK)

	tw, err := appkafka.DecodeTweet(f.kafka.Written()[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tw.UserID != 2 || tw.TweetID == 999 || !tw.CreatedDate.Equal(fixed) || tw.LikeCount != 0 {
		t.Fatalf("caller-supplied fields leaked into published tweet: %+v", tw)
	}
}

func TestPostNewTweet_UnknownUser(t *testing.T) {
	f := newFixture(t)

	res := f.svc.PostNewTweet(context.Background(), "mallory", models.Tweet{TweetDesc: "hi"})
	expect(t, res, models.OutcomeUserNotExist, http.StatusInternalServerError)
	if res.Message != MsgUserNotExist {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if len(f.kafka.Written()) != 0 {
		t.Fatalf("nothing should be published for an unknown user")
	}
}

func TestPostNewTweet_PublishFailure(t *testing.T) {
	f := newFixture(t)
	f.kafka.ShouldFail = true

	res := f.svc.PostNewTweet(context.Background(), "alice", models.Tweet{TweetDesc: "lost"})
	expect(t, res, models.OutcomeFailure, http.StatusInternalServerError)
	if res.Message != MsgFailure {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestGetAllTweets_Empty(t *testing.T) {
	f := newFixture(t)

	res := f.svc.GetAllTweets(context.Background())
	expect(t, res, models.OutcomeNotFound, http.StatusNotFound)
	if res.Message != MsgNoTweet {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestGetAllTweets_LikeCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 10, 1, "a")
	seedTweet(t, f.store, 11, 2, "b")
	f.store.AddUser("carol", 3)

	expect(t, f.svc.LikeTweet(ctx, "alice", 10), models.OutcomeOK, http.StatusOK)
	expect(t, f.svc.LikeTweet(ctx, "bob", 10), models.OutcomeOK, http.StatusOK)
	expect(t, f.svc.LikeTweet(ctx, "carol", 11), models.OutcomeOK, http.StatusOK)

	res := f.svc.GetAllTweets(ctx)
	expect(t, res, models.OutcomeOK, http.StatusOK)
	for _, tw := range res.TweetList {
		likes, _ := f.store.FindLikesByTweetID(ctx, tw.TweetID)
		if tw.LikeCount != len(likes) {
			t.Fatalf("tweet %d: like count %d, store has %d", tw.TweetID, tw.LikeCount, len(likes))
		}
	}
	if res.TweetList[0].LikeCount != 2 || res.TweetList[1].LikeCount != 1 {
		t.Fatalf("unexpected like counts: %+v", res.TweetList)
	}
}

func TestGetAllTweetsOfUser_NoTweetsAndUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 10, 1, "a")

	expect(t, f.svc.GetAllTweetsOfUser(ctx, "bob"), models.OutcomeNotFound, http.StatusNotFound)
	expect(t, f.svc.GetAllTweetsOfUser(ctx, "nobody"), models.OutcomeUserNotExist, http.StatusInternalServerError)
}

func TestUpdateTweet_OnlyChangesText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := seedTweet(t, f.store, 20, 1, "reply")
	parent := int64(5)
	orig.ParentTweetID = &parent
	_ = f.store.SaveTweet(ctx, orig)

	in := models.Tweet{
		TweetID:       777,
		UserID:        2,
		TweetDesc:     "edited",
		CreatedDate:   time.Now().Add(time.Hour),
		ParentTweetID: models.Int64Ptr(99),
	}
	expect(t, f.svc.UpdateTweet(ctx, "alice", 20, in), models.OutcomeOK, http.StatusOK)

	got, _ := f.store.FindTweetByID(ctx, 20)
	if got.TweetDesc != "edited" {
		t.Fatalf("text not updated: %q", got.TweetDesc)
	}
	if !got.CreatedDate.Equal(orig.CreatedDate) {
		t.Fatalf("created date changed: %v -> %v", orig.CreatedDate, got.CreatedDate)
	}
	if got.ParentTweetID == nil || *got.ParentTweetID != 5 {
		t.Fatalf("parent changed: %v", got.ParentTweetID)
	}
	if got.UserID != 1 {
		t.Fatalf("owner changed: %d", got.UserID)
	}
	if len(f.store.Tweets) != 1 {
		t.Fatalf("update must not create a new tweet")
	}
}

func TestUpdateTweet_NotFoundForbiddenUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 20, 1, "alice's")

	expect(t, f.svc.UpdateTweet(ctx, "alice", 21, models.Tweet{TweetDesc: "x"}), models.OutcomeNotFound, http.StatusNotFound)
	expect(t, f.svc.UpdateTweet(ctx, "bob", 20, models.Tweet{TweetDesc: "x"}), models.OutcomeForbidden, http.StatusForbidden)
	expect(t, f.svc.UpdateTweet(ctx, "nobody", 20, models.Tweet{TweetDesc: "x"}), models.OutcomeUserNotExist, http.StatusInternalServerError)

	got, _ := f.store.FindTweetByID(ctx, 20)
	if got.TweetDesc != "alice's" {
		t.Fatalf("tweet changed by a rejected update: %q", got.TweetDesc)
	}
}

func TestDeleteTweet_TwiceReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 30, 1, "bye")
	expect(t, f.svc.LikeTweet(ctx, "bob", 30), models.OutcomeOK, http.StatusOK)

	expect(t, f.svc.DeleteTweet(ctx, "alice", 30), models.OutcomeOK, http.StatusOK)
	expect(t, f.svc.DeleteTweet(ctx, "alice", 30), models.OutcomeNotFound, http.StatusNotFound)

	if likes, _ := f.store.FindLikesByTweetID(ctx, 30); len(likes) != 0 {
		t.Fatalf("likes of deleted tweet should be gone, got %d", len(likes))
	}
}

func TestDeleteTweet_NotOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 30, 1, "keep")

	expect(t, f.svc.DeleteTweet(ctx, "bob", 30), models.OutcomeForbidden, http.StatusForbidden)
	if tw, _ := f.store.FindTweetByID(ctx, 30); tw == nil {
		t.Fatalf("tweet deleted by non-owner")
	}
}

// bob likes alice's tweet 100, then unlikes it
func TestLikeTweet_ToggleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 100, 1, "hello")

	res := f.svc.LikeTweet(ctx, "bob", 100)
	expect(t, res, models.OutcomeOK, http.StatusOK)
	if res.Message != MsgLiked {
		t.Fatalf("expected %q, got %q", MsgLiked, res.Message)
	}
	like, _ := f.store.FindLikeByUserIDAndTweetID(ctx, 2, 100)
	if like == nil {
		t.Fatalf("expected like keyed by bob's id")
	}

	res = f.svc.LikeTweet(ctx, "bob", 100)
	expect(t, res, models.OutcomeOK, http.StatusOK)
	if res.Message != MsgUnliked {
		t.Fatalf("expected %q, got %q", MsgUnliked, res.Message)
	}
	if likes, _ := f.store.FindLikesByTweetID(ctx, 100); len(likes) != 0 {
		t.Fatalf("expected no likes after toggle pair, got %d", len(likes))
	}
}

// the owner's own like must not be toggled off by someone else's like
func TestLikeTweet_KeyedByActingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 100, 1, "hello")

	expect(t, f.svc.LikeTweet(ctx, "alice", 100), models.OutcomeOK, http.StatusOK)
	res := f.svc.LikeTweet(ctx, "bob", 100)
	if res.Message != MsgLiked {
		t.Fatalf("bob's first call should like, got %q", res.Message)
	}
	if likes, _ := f.store.FindLikesByTweetID(ctx, 100); len(likes) != 2 {
		t.Fatalf("expected likes from alice and bob, got %d", len(likes))
	}
}

func TestLikeTweet_MissingTweetAndUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expect(t, f.svc.LikeTweet(ctx, "bob", 404), models.OutcomeNotFound, http.StatusNotFound)
	expect(t, f.svc.LikeTweet(ctx, "nobody", 404), models.OutcomeUserNotExist, http.StatusInternalServerError)
}

func TestLikeTweet_ConcurrentLikesKeepOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 100, 1, "hello")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.LikeTweet(ctx, "bob", 100)
		}()
	}
	wg.Wait()

	if likes, _ := f.store.FindLikesByTweetID(ctx, 100); len(likes) > 1 {
		t.Fatalf("at most one like per (user, tweet), got %d", len(likes))
	}
}

// racyLikes never sees an existing like, as if a concurrent caller inserted
// between the lookup and the insert.
type racyLikes struct {
	*store.MockStore
}

func (r racyLikes) FindLikeByUserIDAndTweetID(ctx context.Context, userID, tweetID int64) (*models.Like, error) {
	return nil, nil
}

func TestLikeTweet_LostRaceStillLiked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 100, 1, "hello")
	_ = f.store.SaveLike(ctx, models.Like{TweetLikeID: 1, UserID: 2, TweetID: 100})

	svc := New(f.store, f.store, racyLikes{f.store}, f.store, appkafka.NewTweetPublisher(f.kafka, appkafka.BreakerConfig{}), tracing.Noop())
	res := svc.LikeTweet(ctx, "bob", 100)
	expect(t, res, models.OutcomeOK, http.StatusOK)
	if res.Message != MsgLiked {
		t.Fatalf("expected %q, got %q", MsgLiked, res.Message)
	}
	if likes, _ := f.store.FindLikesByTweetID(ctx, 100); len(likes) != 1 {
		t.Fatalf("expected exactly one like, got %d", len(likes))
	}
}

func TestReplyToTweet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTweet(t, f.store, 100, 1, "hello")

	expect(t, f.svc.ReplyToTweet(ctx, "bob", 100, models.Tweet{TweetDesc: "hi alice"}), models.OutcomeOK, http.StatusOK)

	res := f.svc.GetAllTweetsOfUser(ctx, "bob")
	expect(t, res, models.OutcomeOK, http.StatusOK)
	reply := res.TweetList[0]
	if reply.ParentTweetID == nil || *reply.ParentTweetID != 100 || reply.TweetDesc != "hi alice" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

// a reply is one operation: one span, no nested post
func TestReplyToTweet_RecordsSingleSpan(t *testing.T) {
	st := store.NewMock()
	st.AddUser("alice", 1)
	st.AddUser("bob", 2)
	seedTweet(t, st, 100, 1, "hello")

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	mk := &appkafka.MockKafka{Store: st}
	svc := New(st, st, st, st, appkafka.NewTweetPublisher(mk, appkafka.BreakerConfig{}), tp.Tracer("test"))

	expect(t, svc.ReplyToTweet(context.Background(), "bob", 100, models.Tweet{TweetDesc: "hi"}), models.OutcomeOK, http.StatusOK)

	ended := rec.Ended()
	if len(ended) != 1 {
		names := make([]string, 0, len(ended))
		for _, sp := range ended {
			names = append(names, sp.Name())
		}
		t.Fatalf("expected a single span, got %v", names)
	}
	if ended[0].Name() != "TweetService.ReplyToTweet" {
		t.Fatalf("unexpected span %q", ended[0].Name())
	}
	if len(mk.Written()) != 1 {
		t.Fatalf("expected one published reply, got %d", len(mk.Written()))
	}
}

func TestReplyToTweet_MissingParentCreatesNothing(t *testing.T) {
	f := newFixture(t)

	expect(t, f.svc.ReplyToTweet(context.Background(), "bob", 404, models.Tweet{TweetDesc: "?"}), models.OutcomeNotFound, http.StatusNotFound)
	if len(f.kafka.Written()) != 0 || len(f.store.Tweets) != 0 {
		t.Fatalf("a reply to a missing parent must not create a tweet")
	}
}

func TestStoreFailureFlattensToFailure(t *testing.T) {
	fail := &store.MockStoreFail{}
	svc := New(fail, fail, fail, fail, appkafka.NewTweetPublisher(&appkafka.MockKafka{}, appkafka.BreakerConfig{}), tracing.Noop())
	ctx := context.Background()

	for name, res := range map[string]*models.TweetResponse{
		"all":    svc.GetAllTweets(ctx),
		"ofUser": svc.GetAllTweetsOfUser(ctx, "alice"),
		"update": svc.UpdateTweet(ctx, "alice", 1, models.Tweet{}),
		"post":   svc.PostNewTweet(ctx, "alice", models.Tweet{}),
		"delete": svc.DeleteTweet(ctx, "alice", 1),
		"like":   svc.LikeTweet(ctx, "alice", 1),
		"reply":  svc.ReplyToTweet(ctx, "alice", 1, models.Tweet{}),
	} {
		if res.Outcome != models.OutcomeFailure || res.MessageCode != http.StatusInternalServerError || res.Message != MsgFailure {
			t.Fatalf("%s: expected generic failure, got %+v", name, res)
		}
	}
}

type panickyTweets struct {
	*store.MockStore
}

func (p panickyTweets) FindAllTweets(ctx context.Context) ([]models.Tweet, error) {
	panic("nil map somewhere")
}

func TestPanicFlattensToFailure(t *testing.T) {
	f := newFixture(t)
	svc := New(f.store, panickyTweets{f.store}, f.store, f.store, appkafka.NewTweetPublisher(f.kafka, appkafka.BreakerConfig{}), tracing.Noop())

	expect(t, svc.GetAllTweets(context.Background()), models.OutcomeFailure, http.StatusInternalServerError)
}
