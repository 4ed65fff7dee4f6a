// Package store provides read-only access to the CMS article tables and
// owns the chat interaction audit table.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maqala/chat/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ArticleStore is the CMS read boundary consumed by the orchestrator.
type ArticleStore interface {
	GetArticleBySlug(ctx context.Context, slug string) (models.Article, bool, error)
	ListCategorySiblings(ctx context.Context, categoryID, excludeID string, limit int) ([]models.Article, error)
}

// InteractionStore persists chat turns for history and audit.
type InteractionStore interface {
	LogInteraction(ctx context.Context, rec models.InteractionRecord) error
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the table owned by this service. The CMS tables
// (articles, categories) belong to the platform and are never migrated
// from here.
func (s *Store) Migrate(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS chat_interactions (
  id           BIGSERIAL PRIMARY KEY,
  user_id      TEXT NOT NULL,
  article_slug TEXT NOT NULL,
  query        TEXT NOT NULL,
  response     TEXT,
  outcome      TEXT NOT NULL,
  source       TEXT,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chat_interactions_user_slug_idx
  ON chat_interactions (user_id, article_slug, created_at);
`
	_, err := s.pool.Exec(ctx, q)
	return err
}

// GetArticleBySlug returns the article with its category metadata.
func (s *Store) GetArticleBySlug(ctx context.Context, slug string) (models.Article, bool, error) {
	const q = `
      SELECT a.id, a.slug, a.title, COALESCE(a.excerpt, ''), COALESCE(a.content, ''),
             a.category_id, c.name, a.published, COALESCE(a.published_at, a.created_at)
      FROM articles a
      JOIN categories c ON c.id = a.category_id
      WHERE a.slug = $1
      LIMIT 1`

	var a models.Article
	err := s.pool.QueryRow(ctx, q, slug).Scan(
		&a.ID, &a.Slug, &a.Title, &a.Excerpt, &a.Content,
		&a.CategoryID, &a.CategoryName, &a.Published, &a.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Article{}, false, nil
		}
		return models.Article{}, false, err
	}
	return a, true, nil
}

// ListCategorySiblings returns recent published articles in the category,
// excluding the given article, ordered by publish date descending.
func (s *Store) ListCategorySiblings(ctx context.Context, categoryID, excludeID string, limit int) ([]models.Article, error) {
	const q = `
      SELECT a.id, a.slug, a.title, COALESCE(a.excerpt, ''), COALESCE(a.content, ''),
             a.category_id, c.name, a.published, COALESCE(a.published_at, a.created_at)
      FROM articles a
      JOIN categories c ON c.id = a.category_id
      WHERE a.category_id = $1 AND a.id <> $2 AND a.published
      ORDER BY a.published_at DESC NULLS LAST
      LIMIT $3`

	rows, err := s.pool.Query(ctx, q, categoryID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(
			&a.ID, &a.Slug, &a.Title, &a.Excerpt, &a.Content,
			&a.CategoryID, &a.CategoryName, &a.Published, &a.PublishedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LogInteraction inserts a write-once audit row for one chat turn.
func (s *Store) LogInteraction(ctx context.Context, rec models.InteractionRecord) error {
	const q = `
      INSERT INTO chat_interactions (user_id, article_slug, query, response, outcome, source, created_at)
      VALUES ($1, $2, $3, $4, $5, $6, $7)`

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		rec.UserID, rec.ArticleSlug, rec.Query, rec.Response, rec.Outcome, rec.Source, created,
	)
	return err
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
