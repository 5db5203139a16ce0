package modelcard

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// MemStore is an in-memory Store for tests. Search applies the creator filters and sorts by
// creation time only; the last query is kept in LastQuery.
type MemStore struct {
	mu        sync.Mutex
	cards     map[model.CardKey]model.ModelCard
	LastQuery Query
}

// NewMemStore returns a MemStore holding cards.
func NewMemStore(cards ...model.ModelCard) *MemStore {
	m := &MemStore{cards: map[model.CardKey]model.ModelCard{}}
	for _, c := range cards {
		m.cards[c.Key()] = c
	}
	return m
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, key model.CardKey) (*model.ModelCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &c, nil
}

// Add implements Store.
func (m *MemStore) Add(_ context.Context, card *model.ModelCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[card.Key()]; ok {
		return db.ErrDuplicateRecord
	}
	m.cards[card.Key()] = *card
	return nil
}

// Update implements Store.
func (m *MemStore) Update(
	_ context.Context, key model.CardKey, fn func(card *model.ModelCard) error,
) (*model.ModelCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	m.cards[key] = c
	return &c, nil
}

// Delete implements Store.
func (m *MemStore) Delete(
	_ context.Context, key model.CardKey, allow func(card model.ModelCard) error,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[key]
	if !ok {
		return nil
	}
	if err := allow(c); err != nil {
		return err
	}
	delete(m.cards, key)
	return nil
}

// Search implements Store.
func (m *MemStore) Search(_ context.Context, q Query) ([]model.ModelCard, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastQuery = q

	var out []model.ModelCard
	for _, c := range m.cards {
		if q.Creator != "" && c.CreatorUserID != q.Creator {
			continue
		}
		if q.CreatorPartial != "" &&
			!strings.Contains(strings.ToLower(c.CreatorUserID), strings.ToLower(q.CreatorPartial)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if q.Desc {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Created.Before(out[j].Created)
	})

	total := len(out)
	if q.PageSize > 0 {
		start := (q.Page - 1) * q.PageSize
		if start > total {
			start = total
		}
		end := start + q.PageSize
		if end > total {
			end = total
		}
		out = out[start:end]
	}
	return out, total, nil
}

// FilterOptions implements Store.
func (m *MemStore) FilterOptions(context.Context) (*FilterOptions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags, frameworks, tasks := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, c := range m.cards {
		for _, t := range c.Tags {
			tags[t] = true
		}
		for _, f := range c.Frameworks {
			frameworks[f] = true
		}
		tasks[c.Task] = true
	}
	return &FilterOptions{Tags: keys(tags), Frameworks: keys(frameworks), Tasks: keys(tasks)}, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RichText implements Store.
func (m *MemStore) RichText(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var docs []string
	for _, c := range m.cards {
		docs = append(docs, c.Markdown, c.Performance)
	}
	return docs, nil
}

// ServiceNames implements Store.
func (m *MemStore) ServiceNames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, c := range m.cards {
		if c.InferenceServiceName.Valid {
			names = append(names, c.InferenceServiceName.String)
		}
	}
	return names, nil
}
