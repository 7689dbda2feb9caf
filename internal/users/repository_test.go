package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestRepository(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate users schema: %v", err)
	}
	repository, err := NewRepository(RepositoryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repository, db
}

func externalID(value int64) *int64 {
	return &value
}

func TestNewRepositoryRequiresDatabase(t *testing.T) {
	if _, err := NewRepository(RepositoryConfig{}); !errors.Is(err, errMissingDatabase) {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestRepositoryExistsByExternalID(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()

	exists, err := repository.ExistsByExternalID(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if exists {
		t.Fatalf("expected empty repository to report absence")
	}

	user := &User{
		Email:      " michael.lawson@reqres.in ",
		FirstName:  "Michael",
		LastName:   "Lawson",
		IsExternal: true,
		ExternalID: externalID(7),
	}
	if err := repository.Insert(ctx, user); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if user.ID == 0 {
		t.Fatalf("expected primary key to be assigned")
	}
	if user.Email != "michael.lawson@reqres.in" {
		t.Fatalf("expected email to be trimmed, got %q", user.Email)
	}

	exists, err = repository.ExistsByExternalID(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !exists {
		t.Fatalf("expected external id 7 to exist")
	}
}

func TestRepositoryInsertReportsDuplicateExternalID(t *testing.T) {
	repository, db := newTestRepository(t)
	ctx := context.Background()

	first := &User{Email: "first@example.com", FirstName: "First", LastName: "User", ExternalID: externalID(3)}
	if err := repository.Insert(ctx, first); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	second := &User{Email: "second@example.com", FirstName: "Second", LastName: "User", ExternalID: externalID(3)}
	err := repository.Insert(ctx, second)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}

	var count int64
	if err := db.Model(&User{}).Where("external_id = ?", 3).Count(&count).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row for external id 3, got %d", count)
	}
}

func TestRepositoryInsertReportsDuplicateEmail(t *testing.T) {
	repository, _ := newTestRepository(t)
	ctx := context.Background()

	if err := repository.Insert(ctx, &User{Email: "dup@example.com", FirstName: "A", LastName: "B"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	err := repository.Insert(ctx, &User{Email: "dup@example.com", FirstName: "C", LastName: "D", ExternalID: externalID(9)})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestRepositoryListPaginatesAndSearches(t *testing.T) {
	repository, db := newTestRepository(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	for index := 1; index <= 12; index++ {
		user := User{
			Email:     fmt.Sprintf("user%02d@example.com", index),
			FirstName: fmt.Sprintf("First%02d", index),
			LastName:  "Sample",
			CreatedAt: base.Add(time.Duration(index) * time.Minute),
		}
		if index == 5 {
			user.LastName = "Holt"
		}
		if err := db.Create(&user).Error; err != nil {
			t.Fatalf("failed to seed user: %v", err)
		}
	}

	result, err := repository.List(ctx, ListQuery{Page: 2, Limit: 5})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if result.Total != 12 {
		t.Fatalf("expected total 12, got %d", result.Total)
	}
	if result.TotalPages() != 3 {
		t.Fatalf("expected 3 pages, got %d", result.TotalPages())
	}
	if len(result.Users) != 5 {
		t.Fatalf("expected 5 users on page 2, got %d", len(result.Users))
	}
	if result.Users[0].Email != "user07@example.com" {
		t.Fatalf("expected newest-first ordering, got %s first", result.Users[0].Email)
	}

	searched, err := repository.List(ctx, ListQuery{Search: "holt"})
	if err != nil {
		t.Fatalf("unexpected search error: %v", err)
	}
	if searched.Total != 1 || len(searched.Users) != 1 || searched.Users[0].Email != "user05@example.com" {
		t.Fatalf("unexpected search result: %#v", searched)
	}
	if searched.Page != 1 || searched.Limit != defaultListLimit {
		t.Fatalf("expected default paging, got page=%d limit=%d", searched.Page, searched.Limit)
	}
}

func TestRepositoryListCapsLimit(t *testing.T) {
	repository, _ := newTestRepository(t)

	result, err := repository.List(context.Background(), ListQuery{Limit: 1000})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if result.Limit != maxListLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxListLimit, result.Limit)
	}
}
