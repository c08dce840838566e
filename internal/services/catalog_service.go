package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rabby0101/khulna-hub-services/internal/models"
)

// ICatalogService serves the service-category catalog. Categories change
// rarely and are checked on every job creation, so they are cached in memory
// and reloaded on a Redis Pub/Sub signal when an admin edits them.
type ICatalogService interface {
	ListCategories(ctx context.Context) []models.Category
	IsActiveCategory(ctx context.Context, slug string) bool
	UpsertCategory(ctx context.Context, category models.Category) error
	Load(ctx context.Context) error
	SubscribeToChanges(ctx context.Context) error
}

const (
	categoriesCollection = "categories"
	catalogUpdateChannel = "catalog_updates"
)

// catalogService implements ICatalogService.
type catalogService struct {
	db    *mongo.Database
	rdb   *redis.Client
	cache map[string]models.Category // keyed by slug
	mutex sync.RWMutex
}

// NewCatalogService creates a new CatalogService, loads the catalog and
// starts the background reload listener.
func NewCatalogService(database *mongo.Database, rdb *redis.Client) ICatalogService {
	s := &catalogService{
		db:    database,
		rdb:   rdb,
		cache: make(map[string]models.Category),
	}
	if err := s.Load(context.Background()); err != nil {
		log.Printf("WARNING: Failed to load category catalog from DB: %v", err)
	}
	go func() {
		if err := s.SubscribeToChanges(context.Background()); err != nil {
			log.Printf("CRITICAL: Catalog Pub/Sub listener stopped: %v", err)
		}
	}()
	return s
}

// Load fetches all categories from DB and replaces the in-memory cache.
func (s *catalogService) Load(ctx context.Context) error {
	cursor, err := s.db.Collection(categoriesCollection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query categories: %w", err)
	}
	defer cursor.Close(ctx)

	newCache := make(map[string]models.Category)
	for cursor.Next(ctx) {
		var category models.Category
		if err := cursor.Decode(&category); err != nil {
			log.Printf("Warning: Failed to decode category during load: %v", err)
			continue
		}
		newCache[category.Slug] = category
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating category cursor: %w", err)
	}

	s.mutex.Lock()
	s.cache = newCache
	s.mutex.Unlock()
	log.Printf("Loaded %d categories into catalog cache.", len(newCache))
	return nil
}

// ListCategories returns the active categories from cache.
func (s *catalogService) ListCategories(ctx context.Context) []models.Category {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	categories := make([]models.Category, 0, len(s.cache))
	for _, category := range s.cache {
		if category.Active {
			categories = append(categories, category)
		}
	}
	return categories
}

// IsActiveCategory reports whether the slug names an active category. An
// empty cache (catalog never seeded) accepts everything rather than blocking
// job creation.
func (s *catalogService) IsActiveCategory(ctx context.Context, slug string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if len(s.cache) == 0 {
		return true
	}
	category, ok := s.cache[slug]
	return ok && category.Active
}

// UpsertCategory writes a category to the DB and signals every instance to
// reload its cache.
func (s *catalogService) UpsertCategory(ctx context.Context, category models.Category) error {
	if category.Slug == "" || category.Name == "" {
		return fmt.Errorf("%w: category slug and name are required", ErrValidation)
	}

	filter := bson.M{"slug": category.Slug}
	update := bson.M{"$set": bson.M{
		"slug":   category.Slug,
		"name":   category.Name,
		"active": category.Active,
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.db.Collection(categoriesCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert category %q: %w", category.Slug, err)
	}

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, catalogUpdateChannel, category.Slug).Err(); err != nil {
			log.Printf("Warning: Failed to publish catalog update for %q: %v", category.Slug, err)
		}
	}
	// Local cache catches up via the pub/sub reload; refresh eagerly too so
	// the writing instance sees its own change immediately.
	return s.Load(ctx)
}

// SubscribeToChanges listens for catalog update messages on Redis Pub/Sub and
// reloads the cache on each one.
func (s *catalogService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		log.Println("Redis client not configured, cannot subscribe to catalog changes.")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, catalogUpdateChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to confirm catalog Pub/Sub subscription: %w", err)
	}

	ch := pubsub.Channel()
	log.Println("Subscribed to Redis channel for catalog updates:", catalogUpdateChannel)

	for msg := range ch {
		log.Printf("Received catalog update notification: %s", msg.Payload)
		if err := s.Load(context.Background()); err != nil {
			log.Printf("ERROR reloading catalog from DB after notification: %v", err)
		}
	}

	log.Println("Catalog Pub/Sub listener stopped.")
	return nil
}
