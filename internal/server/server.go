package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"anoa.com/reviewfeed/internal/config"
	"anoa.com/reviewfeed/internal/middleware"
	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/storage"
	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/trigger"

	aggregateService "anoa.com/reviewfeed/internal/modules/aggregate/service"

	feedHttp "anoa.com/reviewfeed/internal/modules/feed/delivery/http"
	feedService "anoa.com/reviewfeed/internal/modules/feed/service"

	followHttp "anoa.com/reviewfeed/internal/modules/follow/delivery/http"
	followService "anoa.com/reviewfeed/internal/modules/follow/service"

	ledgerRepo "anoa.com/reviewfeed/internal/modules/ledger/repository"

	notiHttp "anoa.com/reviewfeed/internal/modules/notification/delivery/http"
	notifRepo "anoa.com/reviewfeed/internal/modules/notification/repository"
	notifService "anoa.com/reviewfeed/internal/modules/notification/service"

	replyHttp "anoa.com/reviewfeed/internal/modules/reply/delivery/http"
	replyService "anoa.com/reviewfeed/internal/modules/reply/service"

	reviewHttp "anoa.com/reviewfeed/internal/modules/review/delivery/http"
	reviewService "anoa.com/reviewfeed/internal/modules/review/service"

	searchService "anoa.com/reviewfeed/internal/modules/search/service"

	userHttp "anoa.com/reviewfeed/internal/modules/user/delivery/http"
	userRepo "anoa.com/reviewfeed/internal/modules/user/repository"
	userService "anoa.com/reviewfeed/internal/modules/user/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/meilisearch/meilisearch-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Trigger names as they appear in events and external deliveries.
const (
	TriggerFollow     = "handleFollow"
	TriggerNewReview  = "handleNewReview"
	TriggerReviewEdit = "handleReviewEdit"
	TriggerNewReply   = "handleNewReply"
	TriggerReplyEdit  = "handleReplyEdit"
	TriggerUserAlias  = "updateUserAlias"
)

const shutdownGracePeriod = 10 * time.Second

type Server struct {
	engine      *gin.Engine
	runtime     *trigger.Runtime
	db          *gorm.DB
	redisClient *redis.Client
}

// NewServer wires modules over raw. db and redisClient may be nil: the trigger
// ledger then lives in memory and notifications are not published live.
func NewServer(cfg *config.Config, raw store.Store, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	var ledger trigger.Ledger = trigger.NewMemoryLedger()
	if db != nil {
		ledger = ledgerRepo.NewLedgerRepository(db)
	}

	rt, err := trigger.New(raw, trigger.Config{
		MaxRetries:    cfg.TriggerMaxRetries,
		RetryInterval: cfg.TriggerRetryInterval,
	}, trigger.WithLedger(ledger), trigger.WithLogger(logger.Log))
	if err != nil {
		return nil, err
	}
	records := rt.Store()

	var search searchService.SearchService
	if cfg.MeiliSearchHost != "" {
		meiliClient := meilisearch.New(cfg.MeiliSearchHost, meilisearch.WithAPIKey(cfg.MeiliMasterKey))
		search = searchService.NewSearchService(meiliClient)
	}

	var media storage.MediaStorage
	if cfg.CloudinaryURL != "" {
		media, err = storage.NewCloudinaryStorage(cfg.CloudinaryURL)
		if err != nil {
			return nil, fmt.Errorf("initialize cloudinary storage: %w", err)
		}
	}

	userRepository := userRepo.NewUserRepository(raw)
	aggregateSvc := aggregateService.NewAggregateService(raw)

	userSvc := userService.NewUserService(userRepository, records)
	userHandler := userHttp.NewUserHandler(userSvc)

	// Notification Module
	notificationRepository := notifRepo.NewNotificationRepository(raw)
	notificationSvc := notifService.NewNotificationService(notificationRepository, redisClient)
	notificationHandler := notiHttp.NewNotificationHandler(notificationSvc, redisClient)

	followSvc := followService.NewFollowService(userRepository, aggregateSvc, records, raw)
	followHandler := followHttp.NewFollowHandler(followSvc)

	reviewSvc := reviewService.NewReviewService(userRepository, aggregateSvc, notificationSvc, search, media, records, raw, cfg.ReviewEditWindow)
	reviewHandler := reviewHttp.NewReviewHandler(reviewSvc)

	replySvc := replyService.NewReplyService(userRepository, aggregateSvc, notificationSvc, search, media, records, raw, cfg.ReviewEditWindow)
	replyHandler := replyHttp.NewReplyHandler(replySvc)

	feedSvc := feedService.NewFeedService(notificationRepository, raw, cfg.FeedPageSize, cfg.FeedOwnRatio)
	feedHandler := feedHttp.NewFeedHandler(feedSvc)

	registrations := []struct {
		name    string
		pattern string
		kind    trigger.Kind
		handler trigger.HandlerFunc
	}{
		{TriggerFollow, "following/{follower}/{followee}", trigger.OnWrite, followSvc.HandleFollow},
		{TriggerNewReview, "reviewsSent/{sender}/{reviewID}", trigger.OnCreate, reviewSvc.HandleNewReview},
		{TriggerReviewEdit, "reviewsSent/{sender}/{reviewID}", trigger.OnUpdate, reviewSvc.HandleReviewEdit},
		{TriggerNewReply, "repliesSent/{sender}/{replyID}", trigger.OnCreate, replySvc.HandleNewReply},
		{TriggerReplyEdit, "repliesSent/{sender}/{replyID}", trigger.OnUpdate, replySvc.HandleReplyEdit},
		{TriggerUserAlias, "users/{uid}", trigger.OnWrite, userSvc.UpdateUserAlias},
	}
	for _, r := range registrations {
		if err := rt.Register(r.name, r.pattern, r.kind, r.handler); err != nil {
			return nil, err
		}
	}

	router := gin.New()

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/metrics"},
	}))

	authMiddleware := middleware.NewAuthMiddleware(raw, cfg.JWTSecret)
	eventsHandler := newEventsHandler(rt, cfg.TriggerSecret)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/internal/events", eventsHandler.Deliver)

	api := router.Group("/api")

	// Public routes (no auth required)
	api.GET("/newsfeed", feedHandler.GetNewsfeed)

	// Authenticated, username not required yet
	authed := api.Group("")
	authed.Use(authMiddleware.RequireAuth())
	{
		authed.POST("/users", userHandler.InitializeUser)
		authed.PUT("/users/me/username", userHandler.ClaimUsername)
	}

	protected := api.Group("")
	protected.Use(authMiddleware.RequireAuth(), authMiddleware.RequireUsername())
	{
		protected.POST("/following/:username", followHandler.Follow)
		protected.DELETE("/following/:username", followHandler.Unfollow)

		protected.POST("/reviews", reviewHandler.CreateReview)
		protected.PUT("/reviews/:id", reviewHandler.EditReview)

		protected.POST("/replies", replyHandler.CreateReply)
		protected.PUT("/replies/:id", replyHandler.EditReply)

		// Notification routes
		protected.GET("/notifications", notificationHandler.GetNotifications)
		protected.PUT("/notifications/:id/read", notificationHandler.MarkAsRead)
		protected.GET("/notifications/ws", notificationHandler.HandleWebSocket)
	}

	return &Server{
		engine:      router,
		runtime:     rt,
		db:          db,
		redisClient: redisClient,
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Runtime exposes the trigger runtime; its Store() is where primary records go.
func (s *Server) Runtime() *trigger.Runtime {
	return s.runtime
}

// Run starts the trigger runtime, then serves HTTP on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runtimeErr := make(chan error, 1)
	go func() { runtimeErr <- s.runtime.Run(ctx) }()

	select {
	case <-s.runtime.Running():
	case err := <-runtimeErr:
		return fmt.Errorf("trigger runtime: %w", err)
	case <-ctx.Done():
		return s.runtime.Close()
	}
	logger.Log.Info("trigger runtime running")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Log.WithField("addr", addr).Info("http server listening")
		serveErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-serveErr:
	case err = <-runtimeErr:
		if err != nil {
			err = fmt.Errorf("trigger runtime: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer stop()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Log.WithError(shutdownErr).Warn("http server shutdown")
	}
	if closeErr := s.runtime.Close(); closeErr != nil {
		logger.Log.WithError(closeErr).Warn("trigger runtime close")
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func setupCORS(router *gin.Engine, origins []string) {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}
