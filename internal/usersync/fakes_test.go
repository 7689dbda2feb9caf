package usersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/userdir/internal/directory"
	"github.com/MarcoPoloResearchLab/userdir/internal/users"
)

type fakePage struct {
	page  directory.Page
	err   error
	delay time.Duration
}

type fakeDirectory struct {
	pages map[int]fakePage

	mu       sync.Mutex
	requests []int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeDirectory) FetchPage(ctx context.Context, page int) (directory.Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, page)
	f.mu.Unlock()

	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	entry, ok := f.pages[page]
	if !ok {
		return directory.Page{}, fmt.Errorf("%w: page %d not found", directory.ErrRemoteUnavailable, page)
	}
	if entry.delay > 0 {
		select {
		case <-time.After(entry.delay):
		case <-ctx.Done():
			return directory.Page{}, fmt.Errorf("%w: %w", directory.ErrRemoteUnavailable, ctx.Err())
		}
	}
	if entry.err != nil {
		return directory.Page{}, entry.err
	}
	return entry.page, nil
}

func (f *fakeDirectory) requestedPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.requests...)
}

// pagedDirectory builds a directory of totalPages pages holding perPage
// sequentially numbered records each.
func pagedDirectory(totalPages, perPage int) *fakeDirectory {
	pages := make(map[int]fakePage, totalPages)
	nextID := int64(1)
	for page := 1; page <= totalPages; page++ {
		records := make([]directory.Record, 0, perPage)
		for index := 0; index < perPage; index++ {
			records = append(records, sampleRecord(nextID))
			nextID++
		}
		pages[page] = fakePage{page: directory.Page{
			Number:     page,
			PerPage:    perPage,
			Total:      totalPages * perPage,
			TotalPages: totalPages,
			Records:    records,
		}}
	}
	return &fakeDirectory{pages: pages}
}

func sampleRecord(id int64) directory.Record {
	return directory.Record{
		ExternalID: id,
		Email:      fmt.Sprintf("user%d@reqres.in", id),
		FirstName:  fmt.Sprintf("First%d", id),
		LastName:   fmt.Sprintf("Last%d", id),
		AvatarURL:  fmt.Sprintf("https://reqres.in/img/faces/%d-image.jpg", id),
	}
}

type fakeRepository struct {
	mu          sync.Mutex
	byExternal  map[int64]users.User
	inserted    []int64
	insertErrs  map[int64]error
	lookupErrs  map[int64]error
	insertCalls int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byExternal: make(map[int64]users.User),
		insertErrs: make(map[int64]error),
		lookupErrs: make(map[int64]error),
	}
}

func (f *fakeRepository) ExistsByExternalID(ctx context.Context, externalID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookupErrs[externalID]; err != nil {
		return false, err
	}
	_, ok := f.byExternal[externalID]
	return ok, nil
}

func (f *fakeRepository) Insert(ctx context.Context, user *users.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if user.ExternalID == nil {
		return errors.New("external id missing")
	}
	if err := f.insertErrs[*user.ExternalID]; err != nil {
		return err
	}
	if _, ok := f.byExternal[*user.ExternalID]; ok {
		return users.ErrDuplicateKey
	}
	f.byExternal[*user.ExternalID] = *user
	f.inserted = append(f.inserted, *user.ExternalID)
	return nil
}

func (f *fakeRepository) seed(externalID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := externalID
	f.byExternal[externalID] = users.User{ExternalID: &id, Email: fmt.Sprintf("seed%d@example.com", externalID)}
}

type fakeHasher struct {
	err   error
	calls int
}

func (f *fakeHasher) Hash(plaintext string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "hashed:" + plaintext, nil
}

type recordingImporter struct {
	batches [][]directory.Record
}

func (r *recordingImporter) ImportBatch(ctx context.Context, records []directory.Record) Tally {
	r.batches = append(r.batches, append([]directory.Record(nil), records...))
	return Tally{Imported: len(records)}
}

type staticIDProvider struct {
	id string
}

func (p staticIDProvider) NewID() (string, error) {
	return p.id, nil
}
