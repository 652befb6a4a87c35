package offline

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/runnerr0/tidepool/internal/storage"
)

// Kind classifies a queued action.
type Kind string

const (
	KindCreate Kind = "CREATE"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindCreate, KindUpdate, KindDelete:
		return k, nil
	}
	return "", fmt.Errorf("unknown action kind %q", s)
}

// defaultMethod is used when Enqueue is given no method.
func (k Kind) defaultMethod() string {
	switch k {
	case KindCreate:
		return http.MethodPost
	case KindDelete:
		return http.MethodDelete
	default:
		return http.MethodPut
	}
}

// Action is a request waiting to be replayed.
type Action struct {
	ID         string
	Kind       Kind
	Endpoint   string
	Method     string
	Headers    map[string]string
	Body       []byte
	CreatedAt  time.Time
	RetryCount int
	LastError  string
}

func actionFromRecord(r storage.Action) Action {
	return Action{
		ID:         r.ID,
		Kind:       Kind(r.Kind),
		Endpoint:   r.Endpoint,
		Method:     r.Method,
		Headers:    r.Headers,
		Body:       r.Body,
		CreatedAt:  r.CreatedAt,
		RetryCount: r.RetryCount,
		LastError:  r.LastError,
	}
}

// ContentShadow is a local copy of server content edited offline. It is
// also the body posted to the content sync endpoint.
type ContentShadow struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	LastModified int64  `json:"lastModified"` // unix millis
	Synced       bool   `json:"synced"`
}

func shadowFromRecord(r storage.ContentRecord) ContentShadow {
	return ContentShadow{
		ID:           r.ID,
		Title:        r.Title,
		Content:      r.Content,
		Type:         r.Type,
		Status:       r.Status,
		LastModified: r.LastModified,
		Synced:       r.Synced,
	}
}

func (s ContentShadow) record() *storage.ContentRecord {
	return &storage.ContentRecord{
		ID:           s.ID,
		Title:        s.Title,
		Content:      s.Content,
		Type:         s.Type,
		Status:       s.Status,
		LastModified: s.LastModified,
		Synced:       s.Synced,
	}
}

// SyncResult counts the outcome of one sync pass.
type SyncResult struct {
	Synced  int
	Failed  int
	Dropped int
}

// SyncedItem is passed to OnSynced callbacks.
type SyncedItem struct {
	// Namespace is "actions" or "content".
	Namespace string
	ID        string
}

// ReplayError reports an action dropped after exhausting its retries.
type ReplayError struct {
	Action   Action
	Attempts int
	Err      error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay %s %s %s: gave up after %d attempts: %v",
		e.Action.Kind, e.Action.Method, e.Action.Endpoint, e.Attempts, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }
