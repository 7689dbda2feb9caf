package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

var (
	// ErrDuplicateKey indicates an insert collided with a unique email or external id.
	ErrDuplicateKey = errors.New("users: duplicate key")
	// ErrStorage wraps any other persistence failure.
	ErrStorage = errors.New("users: storage error")

	errMissingDatabase = errors.New("users: database connection required")
	errNilUser         = errors.New("users: user record required")
)

// RepositoryConfig describes the dependencies required by the repository.
type RepositoryConfig struct {
	Database *gorm.DB
}

// Repository persists directory users through gorm.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a repository over the provided database handle.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	return &Repository{db: cfg.Database}, nil
}

// ExistsByExternalID reports whether a user linked to the external id is stored.
func (r *Repository) ExistsByExternalID(ctx context.Context, externalID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&User{}).
		Where("external_id = ?", externalID).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return count > 0, nil
}

// Insert stores a new user. Unique violations are reported as ErrDuplicateKey.
func (r *Repository) Insert(ctx context.Context, user *User) error {
	if user == nil {
		return errNilUser
	}
	user.Email = normalize(user.Email)
	user.FirstName = normalize(user.FirstName)
	user.LastName = normalize(user.LastName)
	user.AvatarURL = normalize(user.AvatarURL)

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// ListQuery selects one page of users, optionally filtered by a search term
// matched against email and names.
type ListQuery struct {
	Page   int
	Limit  int
	Search string
}

// ListResult carries one page of users and the total matching count.
type ListResult struct {
	Users []User
	Page  int
	Limit int
	Total int64
}

// TotalPages returns the number of pages needed to show every matching user.
func (r ListResult) TotalPages() int64 {
	if r.Limit <= 0 {
		return 0
	}
	return (r.Total + int64(r.Limit) - 1) / int64(r.Limit)
}

// List returns users ordered by creation time, newest first.
func (r *Repository) List(ctx context.Context, query ListQuery) (ListResult, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	scope := r.db.WithContext(ctx).Model(&User{})
	if search := normalize(query.Search); search != "" {
		pattern := "%" + search + "%"
		scope = scope.Where("email LIKE ? OR first_name LIKE ? OR last_name LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return ListResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	users := make([]User, 0, limit)
	if err := scope.Session(&gorm.Session{}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&users).Error; err != nil {
		return ListResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return ListResult{Users: users, Page: page, Limit: limit, Total: total}, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
