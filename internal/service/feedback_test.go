package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/playtest-sessions/internal/model"
)

func quality(q model.QualityRating) *model.QualityRating { return &q }

func (f *fixture) submit(t *testing.T, requestID, who string, rating int) *model.Feedback {
	t.Helper()
	fb, err := f.svc.Feedback.SubmitFeedback(context.Background(), SubmitFeedbackInput{
		RequestID: requestID, SubmitterID: who, Rating: rating,
		Responses: map[string]string{"fun": "mostly"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return fb
}

func TestAverageRatingExcludesUnmoderated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, true)

	five := f.submit(t, req.ID, "alice", 5)
	f.submit(t, req.ID, "bob", 1)
	three := f.submit(t, req.ID, "carol", 3)
	if _, err := f.svc.Feedback.ModerateFeedback(ctx, five.ID, model.ReviewApproved, quality(model.QualityPositive), "mod"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.Feedback.ModerateFeedback(ctx, three.ID, model.ReviewFlagged, nil, "mod"); err != nil {
		t.Fatalf("flag: %v", err)
	}

	for _, scope := range []string{"", req.ID} {
		st, err := f.svc.Stats.FeedbackStats(ctx, scope)
		if err != nil {
			t.Fatal(err)
		}
		if st.AverageRating != 5.0 || st.Total != 3 || st.Pending != 1 || st.Approved != 1 || st.Flagged != 1 {
			t.Fatalf("scope %q: unexpected stats %+v", scope, st)
		}
	}
}

func TestRejectedIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, true)
	fb := f.submit(t, req.ID, "alice", 2)

	got, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, model.ReviewRejected, nil, "mod")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.QualityRating == nil || *got.QualityRating != model.QualityNegative {
		t.Fatalf("rejection should default to NEGATIVE: %+v", got.QualityRating)
	}
	for _, to := range []model.ReviewStatus{model.ReviewPending, model.ReviewApproved, model.ReviewFlagged, model.ReviewRejected} {
		if _, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, to, quality(model.QualityPositive), "mod"); !errors.Is(err, ErrInvalidModerationTransition) {
			t.Fatalf("rejected -> %s: want ErrInvalidModerationTransition, got %v", to, err)
		}
	}
	stored, err := f.svc.Feedback.GetFeedback(ctx, fb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ReviewStatus != model.ReviewRejected {
		t.Fatalf("stored status changed: %s", stored.ReviewStatus)
	}
	st, _ := f.svc.Stats.FeedbackStats(ctx, req.ID)
	if st.Rejected != 1 || st.Pending != 0 {
		t.Fatalf("unexpected tallies: %+v", st)
	}
}

func TestModerationQualityRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, true)
	fb := f.submit(t, req.ID, "alice", 4)

	if _, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, model.ReviewApproved, nil, "mod"); !errors.Is(err, ErrValidation) {
		t.Fatalf("approve without rating: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, model.ReviewApproved, quality(model.QualityNegative), "mod"); !errors.Is(err, ErrValidation) {
		t.Fatalf("approve as negative: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, model.ReviewFlagged, quality(model.QualityNeutral), "mod"); !errors.Is(err, ErrValidation) {
		t.Fatalf("flag with rating: want ErrValidation, got %v", err)
	}
	approved, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, model.ReviewApproved, quality("neutral"), "mod")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if *approved.QualityRating != model.QualityNeutral || approved.ReviewedAt == nil {
		t.Fatalf("unexpected approval: %+v", approved)
	}
	flagged, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, model.ReviewFlagged, nil, "mod")
	if err != nil {
		t.Fatalf("re-flag: %v", err)
	}
	if flagged.QualityRating != nil {
		t.Fatalf("flagging should clear the quality rating")
	}
	st, _ := f.svc.Stats.FeedbackStats(ctx, req.ID)
	if st.Approved != 0 || st.Flagged != 1 || st.AverageRating != 0 {
		t.Fatalf("re-flag should leave the approved tally: %+v", st)
	}
}

func TestSubmitFeedbackRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, true)
	draft := f.request(t, false)

	f.submit(t, req.ID, "alice", 4)
	if _, err := f.svc.Feedback.SubmitFeedback(ctx, SubmitFeedbackInput{RequestID: req.ID, SubmitterID: "alice", Rating: 3}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("duplicate: want ErrAlreadySubmitted, got %v", err)
	}
	if _, err := f.svc.Feedback.SubmitFeedback(ctx, SubmitFeedbackInput{RequestID: req.ID, SubmitterID: "bob", Rating: 6}); !errors.Is(err, ErrValidation) {
		t.Fatalf("rating 6: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.Feedback.SubmitFeedback(ctx, SubmitFeedbackInput{RequestID: draft.ID, SubmitterID: "bob", Rating: 3}); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("draft request: want ErrRequestClosed, got %v", err)
	}
	if _, err := f.svc.Feedback.SubmitFeedback(ctx, SubmitFeedbackInput{RequestID: "missing", SubmitterID: "bob", Rating: 3}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing request: want ErrNotFound, got %v", err)
	}

	s := f.session(t, 2, nil)
	if _, err := f.svc.Feedback.SubmitFeedback(ctx, SubmitFeedbackInput{RequestID: req.ID, SessionID: s.ID, SubmitterID: "alice", Rating: 5}); err != nil {
		t.Fatalf("same submitter in a session context: %v", err)
	}
}

func TestSubmitFeedbackSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.Requests.CreateRequest(ctx, CreateRequestInput{
		Title: "Beta", ProjectID: "p", OwnerID: "dev-1", Open: true,
		FeedbackSchema: `{"type":"object","required":["bugs"],"properties":{"bugs":{"type":"string","minLength":1}}}`,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := f.svc.Feedback.SubmitFeedback(ctx, SubmitFeedbackInput{RequestID: req.ID, SubmitterID: "alice", Rating: 4,
		Responses: map[string]string{"fun": "yes"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing required answer: want ErrValidation, got %v", err)
	}
	if _, err := f.svc.Feedback.SubmitFeedback(ctx, SubmitFeedbackInput{RequestID: req.ID, SubmitterID: "alice", Rating: 4,
		Responses: map[string]string{"bugs": "crash on level 2"}}); err != nil {
		t.Fatalf("valid responses: %v", err)
	}
	if _, err := f.svc.Requests.CreateRequest(ctx, CreateRequestInput{Title: "x", ProjectID: "p", OwnerID: "o",
		FeedbackSchema: `{"type": 12}`}); !errors.Is(err, ErrValidation) {
		t.Fatalf("broken schema: want ErrValidation, got %v", err)
	}
}

func TestRespondToFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, true)
	fb := f.submit(t, req.ID, "alice", 4)

	if _, err := f.svc.Feedback.RespondToFeedback(ctx, fb.ID, "dev-1", "thanks"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending feedback: want ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, model.ReviewApproved, quality(model.QualityPositive), "mod"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Feedback.RespondToFeedback(ctx, fb.ID, "someone-else", "thanks"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner: want ErrForbidden, got %v", err)
	}
	got, err := f.svc.Feedback.RespondToFeedback(ctx, fb.ID, "dev-1", "thanks, fixed in 0.2")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got.DeveloperResponse != "thanks, fixed in 0.2" {
		t.Fatalf("response not stored: %+v", got)
	}
	list, err := f.svc.Feedback.ListFeedback(ctx, req.ID, "approved")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].DeveloperResponse == "" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestFeedbackStatsUnderConcurrentModeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, true)

	const n = 24
	items := make([]*model.Feedback, n)
	for i := range items {
		items[i] = f.submit(t, req.ID, fmt.Sprintf("tester-%02d", i), i%5+1)
	}

	// Each item gets a racing approve and reject; exactly one can win.
	var (
		g       errgroup.Group
		mu      sync.Mutex
		winners int
	)
	for _, fb := range items {
		for _, target := range []model.ReviewStatus{model.ReviewApproved, model.ReviewRejected} {
			g.Go(func() error {
				var q *model.QualityRating
				if target == model.ReviewApproved {
					q = quality(model.QualityPositive)
				}
				_, err := f.svc.Feedback.ModerateFeedback(ctx, fb.ID, target, q, "mod")
				switch {
				case err == nil:
					mu.Lock()
					winners++
					mu.Unlock()
					return nil
				case errors.Is(err, ErrInvalidModerationTransition):
					return nil
				}
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if winners != n {
		t.Fatalf("want one winning moderation per item, got %d", winners)
	}

	rows, err := f.svc.Feedback.ListFeedback(ctx, req.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	var approved, rejected, sum int
	for _, fb := range rows {
		switch fb.ReviewStatus {
		case model.ReviewApproved:
			approved++
			sum += fb.Rating
		case model.ReviewRejected:
			rejected++
		default:
			t.Fatalf("unexpected status %s", fb.ReviewStatus)
		}
	}
	st, err := f.svc.Stats.FeedbackStats(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != n || st.Pending != 0 || st.Approved != approved || st.Rejected != rejected || st.Flagged != 0 {
		t.Fatalf("tallies %+v disagree with rows (approved=%d rejected=%d)", st, approved, rejected)
	}
	var want float64
	if approved > 0 {
		want = float64(sum) / float64(approved)
	}
	if math.Abs(st.AverageRating-want) > 1e-9 {
		t.Fatalf("average rating: want %v, got %v", want, st.AverageRating)
	}
}

func TestModerateFeedbackAcceptsLowercaseStatus(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, true)
	fb := f.submit(t, req.ID, "alice", 4)
	got, err := f.svc.Feedback.ModerateFeedback(context.Background(), fb.ID, "flagged", nil, "mod")
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	if got.ReviewStatus != model.ReviewFlagged {
		t.Fatalf("want FLAGGED, got %s", got.ReviewStatus)
	}
}
