package store

import (
	"sync"
	"time"

	"digestly/pkg/domain"
)

// MemoryStore is an in-process Store used by tests and local development.
// The error fields, when set, make the corresponding operations fail so
// fail-closed and swallow-on-write behaviors can be exercised.
type MemoryStore struct {
	mu        sync.RWMutex
	contents  map[string]domain.Content
	order     []string
	flags     []domain.ModerationFlag
	usage     map[usageKey]int
	summaries map[summaryKey]domain.Summary

	UsageErr error
	FlagErr  error
}

type usageKey struct {
	accountID string
	period    string
	field     string
}

type summaryKey struct {
	contentID string
	language  string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contents:  make(map[string]domain.Content),
		usage:     make(map[usageKey]int),
		summaries: make(map[summaryKey]domain.Summary),
	}
}

// CreateContent inserts a content row and tracks insertion order.
func (m *MemoryStore) CreateContent(c domain.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.contents[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.contents[c.ID] = c
	return nil
}

// GetContent retrieves a content row by ID.
func (m *MemoryStore) GetContent(id string) (domain.Content, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[id]
	return c, ok, nil
}

// GetContentByOwnerURL finds the newest row for an (owner, url) pair.
func (m *MemoryStore) GetContentByOwnerURL(ownerID, url string) (domain.Content, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found domain.Content
	var ok bool
	for _, id := range m.order {
		c := m.contents[id]
		if c.OwnerAccountID == ownerID && c.URL == url {
			found = c
			ok = true
		}
	}
	return found, ok, nil
}

// GetContentByTranscriptID resolves the vendor correlation ID to a row.
func (m *MemoryStore) GetContentByTranscriptID(transcriptID string) (domain.Content, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if transcriptID == "" {
		return domain.Content{}, false, nil
	}
	for _, c := range m.contents {
		if c.TranscriptID == transcriptID {
			return c, true, nil
		}
	}
	return domain.Content{}, false, nil
}

// SetContentStatus updates status and error code.
func (m *MemoryStore) SetContentStatus(id string, status domain.ContentStatus, code domain.ErrorCode) error {
	return m.mutateContent(id, func(c *domain.Content) {
		c.Status = status
		c.ErrorCode = code
	})
}

// SetContentTranscriptRef records the vendor correlation ID.
func (m *MemoryStore) SetContentTranscriptRef(id, transcriptID string) error {
	return m.mutateContent(id, func(c *domain.Content) {
		c.TranscriptID = transcriptID
	})
}

// SetContentText stores raw text or a failure marker.
func (m *MemoryStore) SetContentText(id, text string) error {
	return m.mutateContent(id, func(c *domain.Content) {
		c.RawText = text
	})
}

// SetContentTranscript stores transcript text plus derived metrics.
func (m *MemoryStore) SetContentTranscript(id, text string, durationSeconds, speakerCount int) error {
	return m.mutateContent(id, func(c *domain.Content) {
		c.RawText = text
		c.DurationSeconds = durationSeconds
		c.SpeakerCount = speakerCount
	})
}

func (m *MemoryStore) mutateContent(id string, mutate func(*domain.Content)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return ErrNotFound
	}
	mutate(&c)
	c.UpdatedAt = time.Now().UTC()
	m.contents[id] = c
	return nil
}

// SaveModerationFlag appends a detection event.
func (m *MemoryStore) SaveModerationFlag(f domain.ModerationFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FlagErr != nil {
		return m.FlagErr
	}
	m.flags = append(m.flags, f)
	return nil
}

// ListFlagsByContent returns flags for a content row in insertion order.
func (m *MemoryStore) ListFlagsByContent(contentID string) ([]domain.ModerationFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ModerationFlag, 0)
	for _, f := range m.flags {
		if f.ContentID == contentID {
			res = append(res, f)
		}
	}
	return res, nil
}

// AllFlags returns every stored flag; test helper.
func (m *MemoryStore) AllFlags() []domain.ModerationFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ModerationFlag, len(m.flags))
	copy(out, m.flags)
	return out
}

// GetUsage returns the current count for a usage key, zero when absent.
func (m *MemoryStore) GetUsage(accountID, period, field string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.UsageErr != nil {
		return 0, m.UsageErr
	}
	return m.usage[usageKey{accountID, period, field}], nil
}

// IncrementUsage bumps a counter by one under the store lock, mirroring the
// SQL upsert-with-increment.
func (m *MemoryStore) IncrementUsage(accountID, period, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UsageErr != nil {
		return m.UsageErr
	}
	m.usage[usageKey{accountID, period, field}]++
	return nil
}

// UpsertSummary writes the summary row keyed by (content, language).
func (m *MemoryStore) UpsertSummary(sum domain.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := summaryKey{sum.ContentID, sum.Language}
	now := time.Now().UTC()
	if existing, ok := m.summaries[key]; ok {
		existing.SummaryText = sum.SummaryText
		existing.Status = sum.Status
		existing.UpdatedAt = now
		m.summaries[key] = existing
		return nil
	}
	sum.CreatedAt = now
	sum.UpdatedAt = now
	m.summaries[key] = sum
	return nil
}

// GetSummary returns one summary row.
func (m *MemoryStore) GetSummary(contentID, language string) (domain.Summary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, ok := m.summaries[summaryKey{contentID, language}]
	return sum, ok, nil
}
