package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	aggregate "anoa.com/reviewfeed/internal/modules/aggregate/service"
	notifDto "anoa.com/reviewfeed/internal/modules/notification/dto"
	notification "anoa.com/reviewfeed/internal/modules/notification/service"
	"anoa.com/reviewfeed/internal/modules/reply/dto"
	search "anoa.com/reviewfeed/internal/modules/search/service"
	userRepo "anoa.com/reviewfeed/internal/modules/user/repository"
	"anoa.com/reviewfeed/pkg/apperror"
	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/permalink"
	"anoa.com/reviewfeed/pkg/storage"
	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/trigger"
	"github.com/sirupsen/logrus"
)

var (
	editableFields = []string{"content", "image", "video", "rating"}
	mediaFields    = []string{"image", "video"}
)

type ReplyService interface {
	// CreateReply writes repliesSent/{own}/{id} for a reply to the node at
	// req.Permalink.
	CreateReply(ctx context.Context, ownUsername string, req dto.CreateReplyRequest) (*dto.ReplyResponse, error)
	EditReply(ctx context.Context, ownUsername, replyID string, req dto.EditReplyRequest) error
	HandleNewReply(ctx context.Context, e trigger.Event) error
	// HandleReplyEdit cascades an edit to the canonical reply, the recipient's
	// received copy, the notification and the parent's reply average.
	HandleReplyEdit(ctx context.Context, e trigger.Event) error
}

type replyService struct {
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

func NewReplyService(users userRepo.UserRepository, aggregates aggregate.AggregateService, notifications notification.NotificationService, searchService search.SearchService, media storage.MediaStorage, records, raw store.Store, editWindow time.Duration) ReplyService {
	return &replyService{
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

func sentPath(own, replyID string) string {
	return permalink.Join("repliesSent", own, replyID)
}

func (s *replyService) CreateReply(ctx context.Context, ownUsername string, req dto.CreateReplyRequest) (*dto.ReplyResponse, error) {
	if req.Rating == nil {
		return nil, apperror.ErrInvalidInput
	}
	if err := aggregate.ReplyDomain.Validate(*req.Rating); err != nil {
		return nil, err
	}
	if !permalink.IsSafe(req.Permalink) {
		return nil, fmt.Errorf("%w: %q", apperror.ErrUnsafePermalink, req.Permalink)
	}
	parent := permalink.Parse(req.Permalink)
	if !parent.Addressable() {
		return nil, fmt.Errorf("%w: %q does not address a review or reply", apperror.ErrUnsafePermalink, req.Permalink)
	}
	exists, err := s.records.Exists(ctx, parent.String())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("reply target %s: %w", parent, apperror.ErrNotFound)
	}

	replyID, err := s.records.NewID(ctx, permalink.Join("repliesSent", ownUsername))
	if err != nil {
		return nil, err
	}
	link := parent.Child(replyID).String()

	reply := map[string]any{
		"content":   req.Content,
		"rating":    *req.Rating,
		"permalink": link,
		"sender":    ownUsername,
		"timestamp": store.ServerTimestamp,
	}
	if req.Image != "" {
		reply["image"] = req.Image
	}
	if req.Video != "" {
		reply["video"] = req.Video
	}

	if err := s.records.WriteBatch(ctx, map[string]any{sentPath(ownUsername, replyID): reply}); err != nil {
		return nil, fmt.Errorf("create reply: %w", err)
	}
	return &dto.ReplyResponse{ID: replyID, Permalink: link}, nil
}

func (s *replyService) EditReply(ctx context.Context, ownUsername, replyID string, req dto.EditReplyRequest) error {
	if req.Rating == nil {
		return apperror.ErrInvalidInput
	}
	if err := aggregate.ReplyDomain.Validate(*req.Rating); err != nil {
		return err
	}

	path := sentPath(ownUsername, replyID)
	current, err := s.records.Get(ctx, path)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("reply %s: %w", replyID, apperror.ErrNotFound)
	}
	if s.editWindow > 0 {
		created := time.UnixMilli(store.Int(store.Field(current, "timestamp")))
		if s.now().Sub(created) > s.editWindow {
			return apperror.New(http.StatusForbidden, "reply can no longer be edited", apperror.ErrForbidden)
		}
	}

	return s.records.WriteBatch(ctx, map[string]any{
		permalink.Join(path, "content"): req.Content,
		permalink.Join(path, "image"):   store.NullIfEmpty(req.Image),
		permalink.Join(path, "video"):   store.NullIfEmpty(req.Video),
		permalink.Join(path, "rating"):  *req.Rating,
	})
}

// replyAddress validates a reply permalink before anything trusts it.
func replyAddress(link string) (permalink.Address, error) {
	if !permalink.IsSafe(link) {
		return permalink.Address{}, fmt.Errorf("%w: %q", apperror.ErrUnsafePermalink, link)
	}
	addr := permalink.Parse(link)
	if !addr.IsReply() || !addr.Addressable() {
		return permalink.Address{}, fmt.Errorf("%w: %q does not address a reply", apperror.ErrUnsafePermalink, link)
	}
	return addr, nil
}

func (s *replyService) HandleNewReply(ctx context.Context, e trigger.Event) error {
	own := e.Param("sender")
	replyID := e.Param("replyID")
	log := logger.Log.WithFields(logrus.Fields{"trigger": e.Trigger, "event_id": e.ID, "path": e.Path})

	current := store.Clone(e.After)
	addr, err := replyAddress(store.String(current["permalink"]))
	if err != nil {
		return err
	}
	rating, ok := store.Float(current["rating"])
	if !ok {
		return fmt.Errorf("%w: reply rating %v is not a number", apperror.ErrOutOfRange, current["rating"])
	}

	ownUID, err := s.users.ResolveUID(ctx, own)
	if err != nil {
		return err
	}
	if ownUID == "" {
		log.Debug("reply sender has no alias, skipping")
		return nil
	}

	// the recipient is whoever sent the node being replied to
	parentAddr, _ := addr.Parent()
	parentPath := parentAddr.String()
	parent, err := s.raw.Get(ctx, parentPath)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("reply parent %s: %w", parentPath, apperror.ErrNotFound)
	}
	recipient := store.String(store.Field(parent, "sender"))
	recipientUID, err := s.users.ResolveUID(ctx, recipient)
	if err != nil {
		return err
	}
	if recipientUID == "" {
		log.WithField("recipient", recipient).Debug("reply recipient has no alias, skipping")
		return nil
	}

	recipientProfile, err := s.users.FindProfile(ctx, "users", recipientUID)
	if err != nil {
		return err
	}
	senderProfile, err := s.users.FindProfile(ctx, "users", ownUID)
	if err != nil {
		return err
	}

	current["permalink"] = addr.String()
	current["recipient"] = recipient
	current["recipientsEthAddress"] = nil
	if recipientProfile != nil {
		current["recipientsEthAddress"] = store.NullIfEmpty(recipientProfile.EthAddress)
	}
	current["sendersEthAddress"] = nil
	if senderProfile != nil {
		current["sendersEthAddress"] = store.NullIfEmpty(senderProfile.EthAddress)
	}
	current["averageRatingFromReplies"] = aggregate.ReplyDomain.Midpoint()
	current["replyCount"] = 0
	current["synced"] = false

	parentReplies := store.Int(store.Field(parent, "replyCount"))
	if _, err := s.aggregates.IncrementNewAverage(ctx, rating, parentReplies, permalink.Join(parentPath, "averageRatingFromReplies"), aggregate.ReplyDomain); err != nil {
		return err
	}
	if _, err := s.aggregates.Increment(ctx, permalink.Join(parentPath, "replyCount")); err != nil {
		return err
	}
	if _, err := s.aggregates.Increment(ctx, permalink.Join("users", recipientUID, "replyCount")); err != nil {
		return err
	}
	if _, err := s.aggregates.Increment(ctx, permalink.Join("users", ownUID, "repliesSentCount")); err != nil {
		return err
	}

	if err := s.raw.WriteBatch(ctx, map[string]any{
		addr.String():          current,
		sentPath(own, replyID): current,
		permalink.Join("repliesReceived", recipient, replyID): current,
	}); err != nil {
		return err
	}

	if err := s.notifications.Notify(ctx, recipient, replyID, notification.ReplyFields(notifDto.Source{
		Content:    store.String(current["content"]),
		Sender:     store.String(current["sender"]),
		Permalink:  addr.String(),
		Rating:     rating,
		ReplyCount: 0,
		Synced:     false,
		Timestamp:  current["timestamp"],
		Recipient:  recipient,
	})); err != nil {
		return err
	}

	if err := s.users.MirrorAlias(ctx, ownUID); err != nil {
		return err
	}
	if err := s.users.MirrorAlias(ctx, recipientUID); err != nil {
		return err
	}

	s.index(replyID, current)
	log.Info("new reply propagated")
	return nil
}

func (s *replyService) HandleReplyEdit(ctx context.Context, e trigger.Event) error {
	own := e.Param("sender")
	replyID := e.Param("replyID")
	log := logger.Log.WithFields(logrus.Fields{"trigger": e.Trigger, "event_id": e.ID, "path": e.Path})

	previous := store.Map(e.Before)
	current := store.Map(e.After)
	if !store.FieldsChanged(previous, current, editableFields...) {
		return nil
	}

	addr, err := replyAddress(store.String(current["permalink"]))
	if err != nil {
		return err
	}
	ownUID, err := s.users.ResolveUID(ctx, own)
	if err != nil {
		return err
	}
	if ownUID == "" {
		log.Debug("reply sender has no alias, skipping")
		return nil
	}

	parentAddr, _ := addr.Parent()
	parentPath := parentAddr.String()
	parent, err := s.raw.Get(ctx, parentPath)
	if err != nil {
		return err
	}
	recipient := store.String(current["recipient"])
	if recipient == "" {
		recipient = store.String(store.Field(parent, "sender"))
	}

	newRating, ok := store.Float(current["rating"])
	if !ok {
		return fmt.Errorf("%w: reply rating %v is not a number", apperror.ErrOutOfRange, current["rating"])
	}
	if oldRating, hadRating := store.Float(previous["rating"]); hadRating && oldRating != newRating {
		count := store.Int(store.Field(parent, "replyCount"))
		avgPath := permalink.Join(parentPath, "averageRatingFromReplies")
		if _, err := s.aggregates.IncrementRecalculatedAverage(ctx, newRating, oldRating, count, avgPath, aggregate.ReplyDomain); err != nil {
			return err
		}
	}

	copies := []string{addr.String()}
	if recipient != "" {
		copies = append(copies, permalink.Join("repliesReceived", recipient, replyID))
	}
	updates := map[string]any{}
	for _, base := range copies {
		updates[permalink.Join(base, "content")] = current["content"]
		updates[permalink.Join(base, "rating")] = current["rating"]
		for _, f := range mediaFields {
			updates[permalink.Join(base, f)] = store.NullIfEmpty(current[f])
		}
	}
	if err := s.raw.WriteBatch(ctx, updates); err != nil {
		return err
	}

	if recipient != "" {
		if err := s.notifications.Notify(ctx, recipient, replyID, map[string]any{
			"content": current["content"],
			"rating":  current["rating"],
		}); err != nil {
			return err
		}
	}

	s.cleanupMedia(ctx, previous, current)
	if s.search != nil {
		if record, err := s.raw.Get(ctx, addr.String()); err == nil && record != nil {
			s.index(replyID, store.Map(record))
		}
	}
	log.Info("reply edit propagated")
	return nil
}

func (s *replyService) index(id string, record map[string]any) {
	if s.search == nil {
		return
	}
	if err := s.search.IndexRecord(id, record); err != nil {
		logger.Log.WithError(err).WithField("id", id).Warn("failed to index reply")
	}
}

func (s *replyService) cleanupMedia(ctx context.Context, previous, current map[string]any) {
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
