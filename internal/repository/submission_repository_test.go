package repository

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/groupstage/predictor-backend/internal/domain"
)

func TestSubmissionRepositoryUnscoredExcludesScored(t *testing.T) {
	db := newRepoTestDB(t, &domain.Submission{}, &domain.Result{})
	subs := NewSubmissionRepository(db)
	results := NewResultRepository(db)

	user := uuid.New()
	scored := &domain.Submission{UserID: user, Payload: json.RawMessage(`{}`)}
	unscored := &domain.Submission{UserID: user, Payload: json.RawMessage(`{}`)}
	if err := subs.Create(scored); err != nil {
		t.Fatalf("create scored: %v", err)
	}
	if err := subs.Create(unscored); err != nil {
		t.Fatalf("create unscored: %v", err)
	}
	if err := results.Create(&domain.Result{SubmissionID: scored.ID, UserID: user, TotalScore: 100, Details: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("create result: %v", err)
	}

	pending, err := subs.Unscored(0)
	if err != nil {
		t.Fatalf("unscored: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != unscored.ID {
		t.Fatalf("expected only unscored submission, got %+v", pending)
	}
}

func newRepoTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
