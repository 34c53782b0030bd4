package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

var (
	ErrNotFound    = domain.ErrNotFound
	ErrStaleStatus = domain.ErrStaleStatus
)

// DocumentsRepository is the single source of truth for document lifecycle state.
type DocumentsRepository interface {
	// Create inserts a new document and returns *domain.ConflictError when the
	// owner already has a document with the same display name.
	Create(ctx context.Context, doc *domain.Document) error
	Get(ctx context.Context, documentID string) (*domain.Document, error)
	GetOwned(ctx context.Context, ownerID, documentID string) (*domain.Document, error)
	List(ctx context.Context, ownerID string, limit, skip int) ([]*domain.Document, error)
	// Transition applies update only while the stored status still equals from.
	// It returns the stored document after the write.
	Transition(ctx context.Context, documentID string, from domain.DocumentStatus, update domain.Update) (*domain.Document, error)
}

// NormalizePage clamps list pagination to sane bounds.
func NormalizePage(limit, skip int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}

// MemoryDocumentsRepository stores documents in memory for local development and tests.
type MemoryDocumentsRepository struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	names     map[string]string
	now       func() time.Time
}

func NewMemoryDocumentsRepository() *MemoryDocumentsRepository {
	return &MemoryDocumentsRepository{
		documents: make(map[string]*domain.Document),
		names:     make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryDocumentsRepository) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(doc.OwnerID, doc.DisplayName)
	if _, exists := r.names[key]; exists {
		return &domain.ConflictError{OwnerID: doc.OwnerID, DisplayName: doc.DisplayName}
	}
	r.names[key] = doc.ID
	r.documents[doc.ID] = doc.Clone()
	return nil
}

func (r *MemoryDocumentsRepository) Get(_ context.Context, documentID string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.documents[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (r *MemoryDocumentsRepository) GetOwned(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	doc, err := r.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (r *MemoryDocumentsRepository) List(
	_ context.Context,
	ownerID string,
	limit, skip int,
) ([]*domain.Document, error) {
	limit, skip = NormalizePage(limit, skip)

	r.mu.RLock()
	items := make([]*domain.Document, 0)
	for _, doc := range r.documents {
		if doc.OwnerID == ownerID {
			items = append(items, doc.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if skip >= len(items) {
		return []*domain.Document{}, nil
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end], nil
}

func (r *MemoryDocumentsRepository) Transition(
	_ context.Context,
	documentID string,
	from domain.DocumentStatus,
	update domain.Update,
) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	if doc.Status != from || !domain.CanTransition(from, update.Status) {
		return nil, ErrStaleStatus
	}
	update.Apply(doc, r.now())
	return doc.Clone(), nil
}

func nameKey(ownerID, displayName string) string {
	return ownerID + "\x00" + displayName
}
