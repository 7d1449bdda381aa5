package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/repository"
)

func newSubmissionServiceForTest(t *testing.T) *SubmissionService {
	t.Helper()
	db := newRepoTestDBForService(t, &domain.Submission{}, &domain.Result{})
	return NewSubmissionService(repository.NewSubmissionRepository(db), repository.NewResultRepository(db))
}

func TestSubmissionServiceSubmitPersistsRow(t *testing.T) {
	svc := newSubmissionServiceForTest(t)
	userID := uuid.New()
	payload := json.RawMessage(`{"groups":{"A":["t1","t2","t3","t4"]}}`)

	id, err := svc.Submit(context.Background(), userID, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected a non-nil submission id")
	}
}

func TestSubmissionServiceSubmitRejectsEmptyPayload(t *testing.T) {
	svc := newSubmissionServiceForTest(t)
	if _, err := svc.Submit(context.Background(), uuid.New(), nil); err != ErrEmptySubmissionPayload {
		t.Fatalf("expected empty payload error, got %v", err)
	}
}

func TestSubmissionServiceListResultsOrdersDescending(t *testing.T) {
	svc := newSubmissionServiceForTest(t)
	userID := uuid.New()

	now := time.Now()
	older := &domain.Result{SubmissionID: uuid.New(), UserID: userID, TotalScore: 40, ProcessedAt: now.Add(-time.Hour)}
	newer := &domain.Result{SubmissionID: uuid.New(), UserID: userID, TotalScore: 80, ProcessedAt: now}
	if err := svc.results.Create(older); err != nil {
		t.Fatalf("create older: %v", err)
	}
	if err := svc.results.Create(newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	results, err := svc.ListResults(context.Background(), userID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].TotalScore != 80 || results[1].TotalScore != 40 {
		t.Fatalf("expected newest result first, got scores %d then %d", results[0].TotalScore, results[1].TotalScore)
	}
}
