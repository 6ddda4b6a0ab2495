package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	mu      sync.Mutex
	persons map[uuid.UUID]*Person
}

func newMockRepo() *mockRepo {
	return &mockRepo{persons: make(map[uuid.UUID]*Person)}
}

func (m *mockRepo) Create(_ context.Context, p *Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.persons[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.persons {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.persons[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.persons[p.ID] = &cp
	return nil
}

func (m *mockRepo) ListByKind(_ context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Person
	for _, p := range m.persons {
		if p.Kind == kind {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func TestRegisterAndGet(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())

	p, err := svc.Register(context.Background(), RegisterInput{
		Kind:      KindClient,
		FirstName: "Jordan",
		LastName:  "Lee",
		Email:     "jordan@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Active {
		t.Error("expected new person to be active")
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Email != "jordan@example.com" {
		t.Errorf("unexpected email %q", got.Email)
	}
}

func TestGetByEmail_CaseInsensitive(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	_, err := svc.Register(context.Background(), RegisterInput{
		Kind:  KindStaff,
		Email: "Rivera@clinic.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.GetByEmail(context.Background(), "rivera@clinic.example.com"); err != nil {
		t.Errorf("expected case-insensitive match, got %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		person Person
		want   string
	}{
		{Person{FirstName: "Jordan", LastName: "Lee"}, "Jordan Lee"},
		{Person{FirstName: "Jordan"}, "Jordan"},
		{Person{Email: "anon@example.com"}, "anon@example.com"},
	}
	for _, tc := range cases {
		if got := tc.person.DisplayName(); got != tc.want {
			t.Errorf("DisplayName() = %q, want %q", got, tc.want)
		}
	}
}

func TestLookup(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	p, err := svc.Register(context.Background(), RegisterInput{
		Kind:      KindClient,
		FirstName: "Jordan",
		LastName:  "Lee",
		Email:     "jordan@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	party, err := svc.Lookup(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if party.Name != "Jordan Lee" || party.Email != "jordan@example.com" {
		t.Errorf("unexpected party %+v", party)
	}

	if _, err := svc.Lookup(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
