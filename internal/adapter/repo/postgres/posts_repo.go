package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// PostRepo stores scraped posts keyed by their external id. Re-scraping the
// same post upserts, so overlapping scrapes never duplicate rows.
type PostRepo struct{ Pool PgxPool }

// NewPostRepo constructs a PostRepo with the given pool.
func NewPostRepo(p PgxPool) *PostRepo { return &PostRepo{Pool: p} }

// Save upserts a post by external id.
func (r *PostRepo) Save(ctx domain.Context, p domain.Post) error {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.Save")
	defer span.End()
	q := `INSERT INTO posts (id, title, content, author, subreddit, url, created_utc, score, num_comments, product, scraped_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO UPDATE SET
		title=EXCLUDED.title, content=EXCLUDED.content, score=EXCLUDED.score,
		num_comments=EXCLUDED.num_comments, scraped_at=EXCLUDED.scraped_at`
	_, err := r.Pool.Exec(ctx, q, p.ID, p.Title, p.Content, p.Author, p.Subreddit, p.URL,
		p.CreatedUTC, p.Score, p.NumComments, domain.ProductKey(p.Product), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=post.save: %w", err)
	}
	return nil
}

// ListByProduct returns up to limit posts for a product, highest score first.
// limit <= 0 returns all.
func (r *PostRepo) ListByProduct(ctx domain.Context, product string, limit int) ([]domain.Post, error) {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.ListByProduct")
	defer span.End()
	q := `SELECT id, title, content, author, subreddit, url, COALESCE(created_utc, 'epoch'::timestamptz), score, num_comments, product
	FROM posts WHERE product=$1 ORDER BY score DESC
	LIMIT CASE WHEN $2 > 0 THEN $2 END`
	rows, err := r.Pool.Query(ctx, q, domain.ProductKey(product), limit)
	if err != nil {
		return nil, fmt.Errorf("op=post.list: %w", err)
	}
	defer rows.Close()
	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Author, &p.Subreddit, &p.URL,
			&p.CreatedUTC, &p.Score, &p.NumComments, &p.Product); err != nil {
			return nil, fmt.Errorf("op=post.list: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=post.list: %w", err)
	}
	return posts, nil
}

// CountByProduct returns the number of stored posts for a product.
func (r *PostRepo) CountByProduct(ctx domain.Context, product string) (int, error) {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.CountByProduct")
	defer span.End()
	q := `SELECT COUNT(*) FROM posts WHERE product=$1`
	var n int
	if err := r.Pool.QueryRow(ctx, q, domain.ProductKey(product)).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=post.count_by_product: %w", err)
	}
	return n, nil
}

// Count returns the total number of stored posts.
func (r *PostRepo) Count(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.Count")
	defer span.End()
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=post.count: %w", err)
	}
	return n, nil
}
