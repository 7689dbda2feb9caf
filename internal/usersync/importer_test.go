package usersync

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/userdir/internal/directory"
	"github.com/MarcoPoloResearchLab/userdir/internal/users"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestImporter(t *testing.T, repository UserRepository, hasher CredentialHasher, logger *zap.Logger) *Importer {
	t.Helper()
	importer, err := NewImporter(ImporterConfig{
		Repository:          repository,
		Hasher:              hasher,
		PlaceholderPassword: "password123",
		Logger:              logger,
	})
	if err != nil {
		t.Fatalf("unexpected importer constructor error: %v", err)
	}
	return importer
}

func TestImporterSkipsExistingExternalID(t *testing.T) {
	repository := newFakeRepository()
	repository.seed(7)
	importer := newTestImporter(t, repository, &fakeHasher{}, nil)

	tally := importer.ImportBatch(context.Background(), []directory.Record{sampleRecord(7)})

	if tally.Skipped != 1 || tally.Imported != 0 || tally.Errors != 0 {
		t.Fatalf("unexpected tally: %#v", tally)
	}
	if repository.insertCalls != 0 {
		t.Fatalf("expected no insert for an existing external id, got %d", repository.insertCalls)
	}
	if len(repository.byExternal) != 1 {
		t.Fatalf("expected a single record for external id 7, got %d", len(repository.byExternal))
	}
}

func TestImporterIsolatesFailingRecord(t *testing.T) {
	repository := newFakeRepository()
	repository.insertErrs[3] = users.ErrStorage
	core, logs := observer.New(zapcore.DebugLevel)
	importer := newTestImporter(t, repository, &fakeHasher{}, zap.New(core))

	records := []directory.Record{sampleRecord(1), sampleRecord(2), sampleRecord(3), sampleRecord(4), sampleRecord(5)}
	tally := importer.ImportBatch(context.Background(), records)

	if tally.Imported != 4 || tally.Errors != 1 || tally.Skipped != 0 || tally.Total() != 5 {
		t.Fatalf("unexpected tally: %#v", tally)
	}

	expectedOrder := []int64{1, 2, 4, 5}
	if len(repository.inserted) != len(expectedOrder) {
		t.Fatalf("unexpected inserted ids: %v", repository.inserted)
	}
	for index, id := range expectedOrder {
		if repository.inserted[index] != id {
			t.Fatalf("expected insertion order %v, got %v", expectedOrder, repository.inserted)
		}
	}

	entries := logs.FilterMessage("external user import failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["external_id"] != int64(3) {
		t.Fatalf("expected external_id context, got %v", entries[0].ContextMap())
	}
}

func TestImporterMarksImportedUsersExternal(t *testing.T) {
	repository := newFakeRepository()
	hasher := &fakeHasher{}
	importer := newTestImporter(t, repository, hasher, nil)

	result := importer.ImportRecord(context.Background(), sampleRecord(11))
	if result.Status != RecordImported {
		t.Fatalf("expected imported status, got %s (%v)", result.Status, result.Err)
	}

	stored := repository.byExternal[11]
	if !stored.IsExternal {
		t.Fatalf("expected imported user to be flagged external")
	}
	if stored.PasswordHash != "hashed:password123" {
		t.Fatalf("expected placeholder credential hash, got %q", stored.PasswordHash)
	}
	if stored.Email != "user11@reqres.in" || stored.FirstName != "First11" || stored.AvatarURL == "" {
		t.Fatalf("unexpected stored user: %#v", stored)
	}
	if hasher.calls != 1 {
		t.Fatalf("expected one hash per imported record, got %d", hasher.calls)
	}
}

func TestImporterRecordFailures(t *testing.T) {
	lookupFailure := errors.New("database locked")
	hashFailure := errors.New("entropy exhausted")

	tests := []struct {
		name   string
		record directory.Record
		setup  func(*fakeRepository, *fakeHasher)
		cause  error
	}{
		{
			name:   "invalid-record",
			record: directory.Record{ExternalID: 0, Email: "nobody@example.com"},
			cause:  errInvalidRecord,
		},
		{
			name:   "missing-email",
			record: directory.Record{ExternalID: 5, Email: "  "},
			cause:  errInvalidRecord,
		},
		{
			name:   "lookup-error",
			record: sampleRecord(8),
			setup: func(repository *fakeRepository, _ *fakeHasher) {
				repository.lookupErrs[8] = lookupFailure
			},
			cause: lookupFailure,
		},
		{
			name:   "hash-error",
			record: sampleRecord(9),
			setup: func(_ *fakeRepository, hasher *fakeHasher) {
				hasher.err = hashFailure
			},
			cause: hashFailure,
		},
		{
			name:   "duplicate-key",
			record: sampleRecord(10),
			setup: func(repository *fakeRepository, _ *fakeHasher) {
				repository.insertErrs[10] = users.ErrDuplicateKey
			},
			cause: users.ErrDuplicateKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repository := newFakeRepository()
			hasher := &fakeHasher{}
			if tt.setup != nil {
				tt.setup(repository, hasher)
			}
			importer := newTestImporter(t, repository, hasher, nil)

			result := importer.ImportRecord(context.Background(), tt.record)
			if result.Status != RecordFailed {
				t.Fatalf("expected failed status, got %s", result.Status)
			}
			if !errors.Is(result.Err, tt.cause) {
				t.Fatalf("expected cause %v, got %v", tt.cause, result.Err)
			}
		})
	}
}

func TestTallyAddFoldsResults(t *testing.T) {
	results := []RecordResult{
		{Status: RecordImported},
		{Status: RecordSkipped},
		{Status: RecordFailed, Err: errors.New("boom")},
		{Status: RecordImported},
	}
	tally := Tally{}
	for _, result := range results {
		tally = tally.Add(result)
	}
	if tally.Imported != 2 || tally.Skipped != 1 || tally.Errors != 1 || tally.Total() != 4 {
		t.Fatalf("unexpected tally: %#v", tally)
	}
}

func TestNewImporterValidatesDependencies(t *testing.T) {
	tests := []struct {
		name  string
		cfg   ImporterConfig
		cause error
	}{
		{name: "repository", cfg: ImporterConfig{Hasher: &fakeHasher{}, PlaceholderPassword: "x"}, cause: errMissingRepository},
		{name: "hasher", cfg: ImporterConfig{Repository: newFakeRepository(), PlaceholderPassword: "x"}, cause: errMissingHasher},
		{name: "placeholder", cfg: ImporterConfig{Repository: newFakeRepository(), Hasher: &fakeHasher{}}, cause: errMissingPlaceholder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImporter(tt.cfg)
			if !errors.Is(err, tt.cause) {
				t.Fatalf("expected %v, got %v", tt.cause, err)
			}
			var serviceErr *ServiceError
			if !errors.As(err, &serviceErr) || serviceErr.Code() == "" {
				t.Fatalf("expected coded service error, got %v", err)
			}
		})
	}
}
