package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortener/internal/config"
	"github.com/SergeiKhy/shortener/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStorage хранилище на MongoDB: одна коллекция urls с уникальным
// индексом по short_code. Счётчик кликов инкрементируется атомарно
// через $inc — единственный бэкенд с точным счётчиком под гонками.
type MongoStorage struct {
	cfg    config.MongoConfig
	logger *zap.Logger

	client *mongo.Client
	coll   *mongo.Collection
}

type mongoLink struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ShortCode   string             `bson:"short_code"`
	OriginalURL string             `bson:"original_url"`
	UserID      string             `bson:"user_id,omitempty"`
	Title       string             `bson:"title,omitempty"`
	ClickCount  int64              `bson:"click_count"`
	CreatedAt   time.Time          `bson:"created_at"`
}

func (d *mongoLink) toModel() *models.Link {
	return &models.Link{
		ID:          d.ID.Hex(),
		ShortCode:   d.ShortCode,
		OriginalURL: d.OriginalURL,
		UserID:      d.UserID,
		Title:       d.Title,
		ClickCount:  d.ClickCount,
		CreatedAt:   d.CreatedAt,
	}
}

func NewMongoStorage(cfg config.MongoConfig, logger *zap.Logger) *MongoStorage {
	return &MongoStorage{cfg: cfg, logger: logger}
}

func (s *MongoStorage) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	opts := options.Client().
		ApplyURI(s.cfg.URL).
		SetMaxPoolSize(10).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(45 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to mongodb: %v", ErrConnection, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("%w: failed to ping mongodb: %v", ErrConnection, err)
	}

	s.client = client
	s.coll = client.Database(s.cfg.Database).Collection("urls")
	s.logger.Info("Connected to MongoDB", zap.String("database", s.cfg.Database))
	return nil
}

func (s *MongoStorage) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}

// Initialize создаёт индексы коллекции. CreateMany идемпотентен.
func (s *MongoStorage) Initialize(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "short_code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "click_count", Value: -1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

func (s *MongoStorage) CreateShortURL(ctx context.Context, shortCode, originalURL, userID string) (*models.Link, error) {
	doc := &mongoLink{
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}

	result, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrCodeExists
		}
		return nil, fmt.Errorf("%w: failed to create link: %v", ErrBackend, err)
	}

	doc.ID = result.InsertedID.(primitive.ObjectID)
	return doc.toModel(), nil
}

// GetOriginalURL читает ссылку и атомарно инкрементирует click_count.
func (s *MongoStorage) GetOriginalURL(ctx context.Context, shortCode string) (string, error) {
	var doc mongoLink
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"short_code": shortCode},
		bson.M{"$inc": bson.M{"click_count": 1}},
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", fmt.Errorf("%w: failed to get link: %v", ErrBackend, err)
	}
	return doc.OriginalURL, nil
}

func (s *MongoStorage) GetAllURLs(ctx context.Context, limit, offset int) ([]*models.Link, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	return s.find(ctx, bson.M{}, opts)
}

func (s *MongoStorage) GetURLStats(ctx context.Context, shortCode string) (*models.Link, error) {
	return s.findOne(ctx, bson.M{"short_code": shortCode})
}

func (s *MongoStorage) GetUserLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.find(ctx, bson.M{"user_id": userID}, opts)
}

func (s *MongoStorage) GetLinkByID(ctx context.Context, id string) (*models.Link, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoStorage) UpdateUserLink(ctx context.Context, id string, upd *models.LinkUpdate) (*models.Link, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrLinkNotFound
	}

	set := bson.M{}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.OriginalURL != nil {
		set["original_url"] = *upd.OriginalURL
	}
	if upd.ShortCode != nil {
		set["short_code"] = *upd.ShortCode
	}
	if len(set) == 0 {
		link, err := s.findOne(ctx, bson.M{"_id": oid})
		if err != nil {
			return nil, err
		}
		if link == nil {
			return nil, ErrLinkNotFound
		}
		return link, nil
	}

	var doc mongoLink
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrLinkNotFound
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrCodeExists
		}
		return nil, fmt.Errorf("%w: failed to update link: %v", ErrBackend, err)
	}
	return doc.toModel(), nil
}

func (s *MongoStorage) DeleteUserLink(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrLinkNotFound
	}

	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("%w: failed to delete link: %v", ErrBackend, err)
	}
	if result.DeletedCount == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// AddClicks принимает пачку кликов одним $inc (расширение ClickBatcher).
func (s *MongoStorage) AddClicks(ctx context.Context, shortCode string, n int64) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"short_code": shortCode},
		bson.M{"$inc": bson.M{"click_count": n}},
	)
	if err != nil {
		return fmt.Errorf("%w: failed to add clicks: %v", ErrBackend, err)
	}
	return nil
}

func (s *MongoStorage) Ping(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx, nil) == nil
}

// TopClicked возвращает самые кликабельные ссылки (доступно только в Mongo).
func (s *MongoStorage) TopClicked(ctx context.Context, limit int) ([]*models.Link, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "click_count", Value: -1}}).
		SetLimit(int64(limit))
	return s.find(ctx, bson.M{}, opts)
}

// SearchURLs ищет по подстроке в URL и заголовке.
func (s *MongoStorage) SearchURLs(ctx context.Context, query string, limit int) ([]*models.Link, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"original_url": bson.M{"$regex": query, "$options": "i"}},
		bson.M{"title": bson.M{"$regex": query, "$options": "i"}},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return s.find(ctx, filter, opts)
}

// URLsByDateRange возвращает ссылки, созданные в интервале [from, to).
func (s *MongoStorage) URLsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Link, error) {
	filter := bson.M{"created_at": bson.M{"$gte": from, "$lt": to}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.find(ctx, filter, opts)
}

// BulkCreate вставляет набор ссылок одним запросом, без проверки дубликатов
// по отдельности: первый дубликат прерывает вставку.
func (s *MongoStorage) BulkCreate(ctx context.Context, links []*models.Link) error {
	docs := make([]any, 0, len(links))
	now := time.Now().UTC()
	for _, l := range links {
		createdAt := l.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		docs = append(docs, &mongoLink{
			ShortCode:   l.ShortCode,
			OriginalURL: l.OriginalURL,
			UserID:      l.UserID,
			Title:       l.Title,
			CreatedAt:   createdAt,
		})
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCodeExists
		}
		return fmt.Errorf("%w: failed to bulk create links: %v", ErrBackend, err)
	}
	return nil
}

func (s *MongoStorage) findOne(ctx context.Context, filter bson.M) (*models.Link, error) {
	var doc mongoLink
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to get link: %v", ErrBackend, err)
	}
	return doc.toModel(), nil
}

func (s *MongoStorage) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Link, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list links: %v", ErrBackend, err)
	}
	defer cursor.Close(ctx)

	links := make([]*models.Link, 0)
	for cursor.Next(ctx) {
		var doc mongoLink
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: failed to decode link: %v", ErrBackend, err)
		}
		links = append(links, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return links, nil
}
