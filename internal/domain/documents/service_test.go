package documents

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/blobstore"
)

// mockRepo is an in-memory Repository.
type mockRepo struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*Document
	failErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{docs: make(map[uuid.UUID]*Document)}
}

func (m *mockRepo) Create(_ context.Context, d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *mockRepo) ListByCreator(_ context.Context, createdByID uuid.UUID, limit, offset int) ([]*Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Document
	for _, d := range m.docs {
		if d.CreatedByID == createdByID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func newTestService(repo Repository) *Service {
	return NewService(repo, blobstore.NewInMemoryStore(), zerolog.Nop())
}

func TestCreate(t *testing.T) {
	svc := newTestService(newMockRepo())

	doc, err := svc.Create(context.Background(), CreateInput{
		Title:       "Treatment Consent",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.7 consent"),
		CreatedByID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ContentHash == "" {
		t.Error("expected content hash to be set")
	}
	if doc.SizeBytes != int64(len("%PDF-1.7 consent")) {
		t.Errorf("unexpected size %d", doc.SizeBytes)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(newMockRepo())

	if _, err := svc.Create(context.Background(), CreateInput{Content: []byte("x")}); !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("expected ErrEmptyTitle, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{Title: "t"}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestCreate_RepoFailureCleansUpBlob(t *testing.T) {
	repo := newMockRepo()
	repo.failErr = errors.New("db down")
	blobs := blobstore.NewInMemoryStore()
	svc := NewService(repo, blobs, zerolog.Nop())

	doc, err := svc.Create(context.Background(), CreateInput{
		Title:   "Intake Packet",
		Content: []byte("body"),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if doc != nil {
		t.Error("expected nil document on failure")
	}
}

func TestContent_RoundTrip(t *testing.T) {
	svc := newTestService(newMockRepo())
	content := []byte("agreement text")

	doc, err := svc.Create(context.Background(), CreateInput{Title: "Agreement", Content: content})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc, got, err := svc.Content(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != string(content) {
		t.Error("content mismatch")
	}
	if got.ContentHash != doc.ContentHash {
		t.Error("hash mismatch")
	}
}

func TestReplace_ChangesHash(t *testing.T) {
	svc := newTestService(newMockRepo())

	doc, err := svc.Create(context.Background(), CreateInput{Title: "Consent", Content: []byte("v1")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.Replace(context.Background(), doc.ID, "", []byte("v2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ContentHash == doc.ContentHash {
		t.Error("expected hash to change")
	}

	got, err := svc.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ContentHash != updated.ContentHash {
		t.Error("expected persisted hash to match")
	}
}

func TestResolver(t *testing.T) {
	svc := newTestService(newMockRepo())
	doc, err := svc.Create(context.Background(), CreateInput{Title: "Consent", Content: []byte("v1")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := NewResolver(svc)
	summary, err := r.Resolve(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ID != doc.ID || summary.ContentHash != doc.ContentHash || summary.Title != "Consent" {
		t.Errorf("unexpected summary %+v", summary)
	}

	if _, err := r.Resolve(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
