package usersync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/userdir/internal/directory"
	"github.com/MarcoPoloResearchLab/userdir/internal/users"
	"go.uber.org/zap"
)

var (
	errMissingRepository  = errors.New("usersync: user repository is required")
	errMissingHasher      = errors.New("usersync: credential hasher is required")
	errMissingPlaceholder = errors.New("usersync: placeholder credential is required")
	errInvalidRecord      = errors.New("usersync: record missing external id or email")
)

// UserRepository is the storage the importer writes into.
type UserRepository interface {
	ExistsByExternalID(ctx context.Context, externalID int64) (bool, error)
	Insert(ctx context.Context, user *users.User) error
}

// CredentialHasher hashes the placeholder credential assigned to imported accounts.
type CredentialHasher interface {
	Hash(plaintext string) (string, error)
}

// RecordStatus is the per-record result of an import attempt.
type RecordStatus int

const (
	RecordImported RecordStatus = iota + 1
	RecordSkipped
	RecordFailed
)

func (s RecordStatus) String() string {
	switch s {
	case RecordImported:
		return "imported"
	case RecordSkipped:
		return "skipped"
	case RecordFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecordResult describes what happened to one candidate record. Err is set
// only for RecordFailed.
type RecordResult struct {
	ExternalID int64
	Status     RecordStatus
	Err        error
}

// Tally accumulates per-record results.
type Tally struct {
	Imported int
	Skipped  int
	Errors   int
}

// Add folds a single record result into the tally.
func (t Tally) Add(result RecordResult) Tally {
	switch result.Status {
	case RecordImported:
		t.Imported++
	case RecordSkipped:
		t.Skipped++
	default:
		t.Errors++
	}
	return t
}

// Total is the number of records folded into the tally.
func (t Tally) Total() int {
	return t.Imported + t.Skipped + t.Errors
}

// ImporterConfig describes the dependencies of the deduplicating importer.
type ImporterConfig struct {
	Repository          UserRepository
	Hasher              CredentialHasher
	PlaceholderPassword string
	Logger              *zap.Logger
}

// Importer inserts absent external users and skips those already linked by external id.
type Importer struct {
	repository  UserRepository
	hasher      CredentialHasher
	placeholder string
	logger      *zap.Logger
}

// NewImporter validates dependencies and constructs an Importer.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opImporterNew, "missing_repository", errMissingRepository)
	}
	if cfg.Hasher == nil {
		return nil, newServiceError(opImporterNew, "missing_hasher", errMissingHasher)
	}
	if cfg.PlaceholderPassword == "" {
		return nil, newServiceError(opImporterNew, "missing_placeholder", errMissingPlaceholder)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Importer{
		repository:  cfg.Repository,
		hasher:      cfg.Hasher,
		placeholder: cfg.PlaceholderPassword,
		logger:      logger,
	}, nil
}

// ImportBatch processes records in order. A failing record never stops the batch.
func (i *Importer) ImportBatch(ctx context.Context, records []directory.Record) Tally {
	tally := Tally{}
	for _, record := range records {
		result := i.ImportRecord(ctx, record)
		if result.Status == RecordFailed {
			i.logger.Warn("external user import failed",
				zap.Int64("external_id", record.ExternalID),
				zap.Error(result.Err))
		}
		tally = tally.Add(result)
	}
	return tally
}

// ImportRecord inserts the record unless a user with the same external id exists.
func (i *Importer) ImportRecord(ctx context.Context, record directory.Record) RecordResult {
	result := RecordResult{ExternalID: record.ExternalID}

	if record.ExternalID <= 0 || strings.TrimSpace(record.Email) == "" {
		result.Status = RecordFailed
		result.Err = errInvalidRecord
		return result
	}

	exists, err := i.repository.ExistsByExternalID(ctx, record.ExternalID)
	if err != nil {
		result.Status = RecordFailed
		result.Err = fmt.Errorf("lookup external id: %w", err)
		return result
	}
	if exists {
		result.Status = RecordSkipped
		return result
	}

	passwordHash, err := i.hasher.Hash(i.placeholder)
	if err != nil {
		result.Status = RecordFailed
		result.Err = fmt.Errorf("hash placeholder credential: %w", err)
		return result
	}

	externalID := record.ExternalID
	user := &users.User{
		Email:        record.Email,
		PasswordHash: passwordHash,
		FirstName:    record.FirstName,
		LastName:     record.LastName,
		AvatarURL:    record.AvatarURL,
		IsExternal:   true,
		ExternalID:   &externalID,
	}
	if err := i.repository.Insert(ctx, user); err != nil {
		result.Status = RecordFailed
		result.Err = fmt.Errorf("insert user: %w", err)
		return result
	}

	result.Status = RecordImported
	return result
}
