package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const indexMessages = "chat_messages"

// MessageDocument is the searchable projection of a chat message.
type MessageDocument struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	CreatedAt  int64  `json:"created_at"`
}

// Query filters a message search. Visibility fields restrict hits to what the viewer can read.
type Query struct {
	Text           string
	ViewerID       string
	ViewerGroupIDs []string
	SenderID       string
	Type           string
	PeerID         string
	GroupID        string
	From           *time.Time
	To             *time.Time
	Limit          int
}

// Meili indexes and queries chat messages in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  zerolog.Logger
}

// NewMeili creates a Meilisearch client and configures the message index.
// An unreachable server leaves the index unhealthy; callers fall back to SQL.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "message_search").Logger(),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: indexMessages, PrimaryKey: "id"}); err != nil {
		m.logger.Debug().Err(err).Msg("create message index (may already exist)")
	}

	index := m.client.Index(indexMessages)
	filterable := []interface{}{"sender_id", "receiver_id", "group_id", "type", "created_at"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn().Err(err).Msg("update searchable attributes")
	}
	sortable := []string{"created_at"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn().Err(err).Msg("update sortable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexMessage adds or replaces a message document.
func (m *Meili) IndexMessage(doc MessageDocument) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	_, err := m.client.Index(indexMessages).AddDocuments([]MessageDocument{doc}, nil)
	return err
}

// DeleteMessage removes a message document.
func (m *Meili) DeleteMessage(id string) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	_, err := m.client.Index(indexMessages).DeleteDocument(id, nil)
	return err
}

// SearchMessageIDs returns the ids of matching messages, newest first.
func (m *Meili) SearchMessageIDs(q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 50
	}

	request := &meili.SearchRequest{
		IndexUID: indexMessages,
		Query:    q.Text,
		Limit:    limit,
		Filter:   BuildFilter(q),
		Sort:     []string{"created_at:desc"},
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{request}})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	var ids []string
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// BuildFilter renders the Meilisearch filter expression for a query.
func BuildFilter(q Query) string {
	visibility := []string{
		fmt.Sprintf("sender_id = %q", q.ViewerID),
		fmt.Sprintf("receiver_id = %q", q.ViewerID),
	}
	if len(q.ViewerGroupIDs) > 0 {
		quoted := make([]string, 0, len(q.ViewerGroupIDs))
		for _, id := range q.ViewerGroupIDs {
			quoted = append(quoted, fmt.Sprintf("%q", id))
		}
		visibility = append(visibility, fmt.Sprintf("group_id IN [%s]", strings.Join(quoted, ", ")))
	}

	filters := []string{"(" + strings.Join(visibility, " OR ") + ")"}
	if q.SenderID != "" {
		filters = append(filters, fmt.Sprintf("sender_id = %q", q.SenderID))
	}
	if q.Type != "" {
		filters = append(filters, fmt.Sprintf("type = %q", q.Type))
	}
	if q.PeerID != "" {
		filters = append(filters, fmt.Sprintf("((sender_id = %q AND receiver_id = %q) OR (sender_id = %q AND receiver_id = %q))",
			q.ViewerID, q.PeerID, q.PeerID, q.ViewerID))
	}
	if q.GroupID != "" {
		filters = append(filters, fmt.Sprintf("group_id = %q", q.GroupID))
	}
	if q.From != nil {
		filters = append(filters, fmt.Sprintf("created_at >= %d", q.From.Unix()))
	}
	if q.To != nil {
		filters = append(filters, fmt.Sprintf("created_at <= %d", q.To.Unix()))
	}

	return strings.Join(filters, " AND ")
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
