package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	aggregate "anoa.com/reviewfeed/internal/modules/aggregate/service"
	notifDto "anoa.com/reviewfeed/internal/modules/notification/dto"
	notification "anoa.com/reviewfeed/internal/modules/notification/service"
	"anoa.com/reviewfeed/internal/modules/review/dto"
	search "anoa.com/reviewfeed/internal/modules/search/service"
	userDto "anoa.com/reviewfeed/internal/modules/user/dto"
	userRepo "anoa.com/reviewfeed/internal/modules/user/repository"
	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/storage"
	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/trigger"
	"github.com/sirupsen/logrus"
)

// editableFields may change after a review is created.
var editableFields = []string{"content", "title", "image", "video", "banner", "rating"}

// mediaFields hold uploaded media URLs; a null is written when absent.
var mediaFields = []string{"image", "video", "banner"}

type ReviewService interface {
	// CreateReview writes reviewsSent/{own}/{id} and returns the review's permalink.
	CreateReview(ctx context.Context, ownUsername string, req dto.CreateReviewRequest) (*dto.ReviewResponse, error)
	// EditReview overwrites the editable fields of the sender's copy.
	EditReview(ctx context.Context, ownUsername, reviewID string, req dto.EditReviewRequest) error
	HandleNewReview(ctx context.Context, e trigger.Event) error
	HandleReviewEdit(ctx context.Context, e trigger.Event) error
}

type reviewService struct {
	users         userRepo.UserRepository
	aggregates    aggregate.AggregateService
	notifications notification.NotificationService
	search        search.SearchService
	media         storage.MediaStorage
	records       store.Store
	raw           store.Store
	editWindow    time.Duration
	now           func() time.Time
}

// NewReviewService wires the review writers and handlers. search and media may
// be nil; indexing and media cleanup are then skipped. A zero editWindow
// allows edits at any time.
func NewReviewService(users userRepo.UserRepository, aggregates aggregate.AggregateService, notifications notification.NotificationService, searchService search.SearchService, media storage.MediaStorage, records, raw store.Store, editWindow time.Duration) ReviewService {
	return &reviewService{
		users:         users,
		aggregates:    aggregates,
		notifications: notifications,
		search:        searchService,
		media:         media,
		records:       records,
		raw:           raw,
		editWindow:    editWindow,
		now:           time.Now,
	}
}

func sentPath(own, reviewID string) string {
	return permalink.Join("reviewsSent", own, reviewID)
}

func (s *reviewService) CreateReview(ctx context.Context, ownUsername string, req dto.CreateReviewRequest) (*dto.ReviewResponse, error) {
	target := permalink.EscapeKey(req.Target)
	if target == "" || req.Type == "" || req.Rating == nil {
		return nil, apperror.ErrInvalidInput
	}
	if err := aggregate.ReviewDomain.Validate(*req.Rating); err != nil {
		return nil, err
	}
	reviewType := permalink.ReviewType(req.Type)
	if !permalink.IsReviewType(reviewType) || (req.Type != reviewType && !permalink.IsTopicNamespace(req.Type)) {
		return nil, fmt.Errorf("%w: %q cannot be reviewed", apperror.ErrBadRequest, req.Type)
	}

	reviewID, err := s.records.NewID(ctx, permalink.Join("reviewsSent", ownUsername))
	if err != nil {
		return nil, err
	}
	link := permalink.Build(reviewType, target, reviewID).String()

	review := map[string]any{
		"content":   req.Content,
		"rating":    *req.Rating,
		"permalink": link,
		"sender":    ownUsername,
		"timestamp": store.ServerTimestamp,
	}
	setIfPresent(review, "title", req.Title)
	setIfPresent(review, "image", req.Image)
	setIfPresent(review, "video", req.Video)
	setIfPresent(review, "banner", req.Banner)

	if err := s.records.WriteBatch(ctx, map[string]any{sentPath(ownUsername, reviewID): review}); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}
	return &dto.ReviewResponse{ID: reviewID, Permalink: link}, nil
}

func (s *reviewService) EditReview(ctx context.Context, ownUsername, reviewID string, req dto.EditReviewRequest) error {
	if req.Rating == nil {
		return apperror.ErrInvalidInput
	}
	if err := aggregate.ReviewDomain.Validate(*req.Rating); err != nil {
		return err
	}

	path := sentPath(ownUsername, reviewID)
	current, err := s.records.Get(ctx, path)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("review %s: %w", reviewID, apperror.ErrNotFound)
	}
	if err := s.checkEditWindow(current); err != nil {
		return err
	}

	return s.records.WriteBatch(ctx, map[string]any{
		permalink.Join(path, "content"): req.Content,
		permalink.Join(path, "title"):   store.NullIfEmpty(req.Title),
		permalink.Join(path, "image"):   store.NullIfEmpty(req.Image),
		permalink.Join(path, "video"):   store.NullIfEmpty(req.Video),
		permalink.Join(path, "banner"):  store.NullIfEmpty(req.Banner),
		permalink.Join(path, "rating"):  *req.Rating,
	})
}

func (s *reviewService) checkEditWindow(record any) error {
	if s.editWindow <= 0 {
		return nil
	}
	created := time.UnixMilli(store.Int(store.Field(record, "timestamp")))
	if s.now().Sub(created) > s.editWindow {
		return apperror.New(http.StatusForbidden, "review can no longer be edited", apperror.ErrForbidden)
	}
	return nil
}

// recipientKey is the document key of the reviewed entity: the reviewed user's
// uid for user reviews, the topic key otherwise. Empty when a reviewed user
// cannot be resolved.
func (s *reviewService) recipientKey(ctx context.Context, addr permalink.Address) (string, error) {
	if permalink.IsUserReviewType(addr.Type) {
		return s.users.ResolveUID(ctx, addr.Username)
	}
	return addr.Username, nil
}

func (s *reviewService) profile(ctx context.Context, namespace, key string) (userDto.Profile, error) {
	p, err := s.users.FindProfile(ctx, namespace, key)
	if err != nil || p == nil {
		return userDto.Profile{}, err
	}
	return *p, nil
}

func (s *reviewService) HandleNewReview(ctx context.Context, e trigger.Event) error {
	own := e.Param("sender")
	reviewID := e.Param("reviewID")
	log := logger.Log.WithFields(logrus.Fields{"trigger": e.Trigger, "event_id": e.ID, "path": e.Path})

	current := store.Clone(e.After)
	link := store.String(current["permalink"])
	if !permalink.IsSafe(link) {
		return fmt.Errorf("%w: %q", apperror.ErrUnsafePermalink, link)
	}
	addr := permalink.Parse(link)
	if addr.IsReply() || !addr.Addressable() {
		return fmt.Errorf("%w: %q does not address a review", apperror.ErrUnsafePermalink, link)
	}
	rating, ok := store.Float(current["rating"])
	if !ok {
		return fmt.Errorf("%w: review rating %v is not a number", apperror.ErrOutOfRange, current["rating"])
	}

	ownUID, err := s.users.ResolveUID(ctx, own)
	if err != nil {
		return err
	}
	if ownUID == "" {
		log.Debug("review sender has no alias, skipping")
		return nil
	}

	namespace := permalink.ProfileNamespace(addr.Type)
	key, err := s.recipientKey(ctx, addr)
	if err != nil {
		return err
	}
	if key == "" {
		log.WithField("recipient", addr.Username).Debug("reviewed user has no alias, skipping")
		return nil
	}
	isUserReview := permalink.IsUserReviewType(addr.Type)

	recipient, err := s.profile(ctx, namespace, key)
	if err != nil {
		return err
	}
	sender, err := s.profile(ctx, "users", ownUID)
	if err != nil {
		return err
	}

	current["permalink"] = addr.String()
	current["recipient"] = addr.Username
	current["recipientsEthAddress"] = nil
	if isUserReview {
		current["recipientsEthAddress"] = store.NullIfEmpty(recipient.EthAddress)
	}
	current["sendersEthAddress"] = store.NullIfEmpty(sender.EthAddress)
	current["averageRatingFromReplies"] = aggregate.ReplyDomain.Midpoint()
	current["replyCount"] = 0
	current["synced"] = false

	profilePath := permalink.Join(namespace, key)
	if _, err := s.aggregates.IncrementNewAverage(ctx, rating, recipient.ReviewCount, permalink.Join(profilePath, "averageRating"), aggregate.ReviewDomain); err != nil {
		return err
	}
	if _, err := s.aggregates.Increment(ctx, permalink.Join(profilePath, "reviewCount")); err != nil {
		return err
	}
	if _, err := s.aggregates.Increment(ctx, permalink.Join("users", ownUID, "reviewsSentCount")); err != nil {
		return err
	}

	if err := s.raw.WriteBatch(ctx, map[string]any{
		sentPath(own, reviewID): current,
		addr.String():           current,
	}); err != nil {
		return err
	}

	src := notifDto.Source{
		Content:    store.String(current["content"]),
		Sender:     store.String(current["sender"]),
		Permalink:  addr.String(),
		Rating:     rating,
		ReplyCount: 0,
		Synced:     false,
		Timestamp:  current["timestamp"],
		Recipient:  addr.Username,
	}
	if title, ok := current["title"].(string); ok {
		src.Title = &title
	}
	if err := s.notifications.Notify(ctx, addr.Username, reviewID, notification.ReviewFields(src)); err != nil {
		return err
	}

	if err := s.users.MirrorAlias(ctx, ownUID); err != nil {
		return err
	}
	if isUserReview {
		if err := s.users.MirrorAlias(ctx, key); err != nil {
			return err
		}
	}

	s.index(reviewID, current)
	log.Info("new review propagated")
	return nil
}

func (s *reviewService) HandleReviewEdit(ctx context.Context, e trigger.Event) error {
	own := e.Param("sender")
	reviewID := e.Param("reviewID")
	log := logger.Log.WithFields(logrus.Fields{"trigger": e.Trigger, "event_id": e.ID, "path": e.Path})

	previous := store.Map(e.Before)
	current := store.Map(e.After)
	if !store.FieldsChanged(previous, current, editableFields...) {
		return nil
	}

	ownUID, err := s.users.ResolveUID(ctx, own)
	if err != nil {
		return err
	}
	if ownUID == "" {
		log.Debug("review sender has no alias, skipping")
		return nil
	}

	link := store.String(current["permalink"])
	if !permalink.IsSafe(link) {
		return fmt.Errorf("%w: %q", apperror.ErrUnsafePermalink, link)
	}
	addr := permalink.Parse(link)
	if addr.IsReply() || !addr.Addressable() {
		return fmt.Errorf("%w: %q does not address a review", apperror.ErrUnsafePermalink, link)
	}
	key, err := s.recipientKey(ctx, addr)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	namespace := permalink.ProfileNamespace(addr.Type)

	newRating, ok := store.Float(current["rating"])
	if !ok {
		return fmt.Errorf("%w: review rating %v is not a number", apperror.ErrOutOfRange, current["rating"])
	}
	oldRating, hadRating := store.Float(previous["rating"])
	if !hadRating || oldRating != newRating {
		recipient, err := s.profile(ctx, namespace, key)
		if err != nil {
			return err
		}
		if !hadRating {
			oldRating = newRating
		}
		avgPath := permalink.Join(namespace, key, "averageRating")
		if _, err := s.aggregates.IncrementRecalculatedAverage(ctx, newRating, oldRating, recipient.ReviewCount, avgPath, aggregate.ReviewDomain); err != nil {
			return err
		}
	}

	canonical := addr.String()
	updates := map[string]any{
		permalink.Join(canonical, "content"): current["content"],
		permalink.Join(canonical, "title"):   current["title"],
		permalink.Join(canonical, "rating"):  current["rating"],
	}
	for _, f := range mediaFields {
		updates[permalink.Join(canonical, f)] = store.NullIfEmpty(current[f])
	}
	if err := s.raw.WriteBatch(ctx, updates); err != nil {
		return err
	}

	if err := s.notifications.Notify(ctx, addr.Username, reviewID, map[string]any{
		"content": current["content"],
		"rating":  current["rating"],
		"title":   current["title"],
	}); err != nil {
		return err
	}

	s.cleanupMedia(ctx, previous, current)
	if s.search != nil {
		if record, err := s.raw.Get(ctx, canonical); err == nil && record != nil {
			s.index(reviewID, store.Map(record))
		}
	}
	log.Info("review edit propagated")
	return nil
}

func (s *reviewService) index(id string, record map[string]any) {
	if s.search == nil {
		return
	}
	if err := s.search.IndexRecord(id, record); err != nil {
		logger.Log.WithError(err).WithField("id", id).Warn("failed to index review")
	}
}

// cleanupMedia deletes media an edit replaced or removed.
func (s *reviewService) cleanupMedia(ctx context.Context, previous, current map[string]any) {
	if s.media == nil {
		return
	}
	for _, f := range mediaFields {
		old := store.String(previous[f])
		if old == "" || old == store.String(current[f]) {
			continue
		}
		if err := s.media.DeleteMedia(ctx, old); err != nil {
			logger.Log.WithError(err).WithField("url", old).Warn("failed to delete replaced media")
		}
	}
}
