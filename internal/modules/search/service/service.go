package service

import (
	"html"
	"strings"

	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/store"
	"github.com/meilisearch/meilisearch-go"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
)

const ReviewsIndex = "reviews"

// Document is what the reviews index holds for one review or reply.
type Document struct {
	ID         string  `json:"id"`
	Permalink  string  `json:"permalink"`
	Kind       string  `json:"kind"`
	ReviewType string  `json:"review_type"`
	Topic      string  `json:"topic"`
	Sender     string  `json:"sender"`
	Title      string  `json:"title,omitempty"`
	Content    string  `json:"content"`
	Rating     float64 `json:"rating"`
	Timestamp  int64   `json:"timestamp"`
}

type SearchService interface {
	// IndexRecord adds or replaces the document for a review or reply record.
	IndexRecord(id string, record map[string]any) error
	DeleteRecord(id string) error
}

type searchService struct {
	client    meilisearch.ServiceManager
	sanitizer *bluemonday.Policy
}

func NewSearchService(client meilisearch.ServiceManager) SearchService {
	s := &searchService{
		client:    client,
		sanitizer: bluemonday.StrictPolicy(),
	}
	s.initIndex()
	return s
}

func (s *searchService) initIndex() {
	filterable := []string{"kind", "review_type", "topic", "sender"}
	filterableInterface := make([]any, len(filterable))
	for i, v := range filterable {
		filterableInterface[i] = v
	}
	if _, err := s.client.Index(ReviewsIndex).UpdateFilterableAttributes(&filterableInterface); err != nil {
		logger.Log.WithError(err).Warn("failed to update reviews filterable attributes")
	}

	sortable := []string{"timestamp", "rating"}
	if _, err := s.client.Index(ReviewsIndex).UpdateSortableAttributes(&sortable); err != nil {
		logger.Log.WithError(err).Warn("failed to update reviews sortable attributes")
	}
}

// CleanContent strips markup so only readable text is indexed.
func CleanContent(sanitizer *bluemonday.Policy, content string) string {
	// block tags become spaces so words do not merge
	content = strings.ReplaceAll(content, "</p>", " ")
	content = strings.ReplaceAll(content, "<br>", " ")
	content = strings.ReplaceAll(content, "</div>", " ")

	cleanText := html.UnescapeString(sanitizer.Sanitize(content))
	return strings.Join(strings.Fields(cleanText), " ")
}

// BuildDocument projects a stored review or reply into its index document.
func BuildDocument(sanitizer *bluemonday.Policy, id string, record map[string]any) Document {
	link := store.String(record["permalink"])
	addr := permalink.Parse(link)
	rating, _ := store.Float(record["rating"])
	return Document{
		ID:         id,
		Permalink:  link,
		Kind:       string(addr.PermalinkType),
		ReviewType: addr.Type,
		Topic:      permalink.UnescapeKey(addr.Username),
		Sender:     permalink.UnescapeKey(store.String(record["sender"])),
		Title:      CleanContent(sanitizer, store.String(record["title"])),
		Content:    CleanContent(sanitizer, store.String(record["content"])),
		Rating:     rating,
		Timestamp:  store.Int(record["timestamp"]),
	}
}

func (s *searchService) IndexRecord(id string, record map[string]any) error {
	doc := BuildDocument(s.sanitizer, id, record)
	task, err := s.client.Index(ReviewsIndex).AddDocuments([]Document{doc}, strPtr("id"))
	if err != nil {
		return err
	}
	logger.Log.WithFields(logrus.Fields{"id": id, "task_uid": task.TaskUID}).Debug("indexed record")
	return nil
}

func (s *searchService) DeleteRecord(id string) error {
	_, err := s.client.Index(ReviewsIndex).DeleteDocument(id)
	return err
}

func strPtr(s string) *string {
	return &s
}
