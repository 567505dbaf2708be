package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

// UserRepo persists users and the credit balance primitives.
type UserRepo struct{ Pool PgxPool }

// NewUserRepo constructs a UserRepo with the given pool.
func NewUserRepo(p PgxPool) *UserRepo { return &UserRepo{Pool: p} }

// Create inserts a new user. Conflicting ids map to ErrConflict.
func (r *UserRepo) Create(ctx domain.Context, u domain.User) error {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Create")
	defer span.End()
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO users (id, credits, full_name, preferred_name, email, created_at) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`
	tag, err := r.Pool.Exec(ctx, q, u.ID, u.Credits, u.FullName, u.PreferredName, u.Email, created)
	if err != nil {
		return fmt.Errorf("op=user.create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=user.create: %w", domain.ErrConflict)
	}
	return nil
}

// Find loads a user by id.
func (r *UserRepo) Find(ctx domain.Context, id string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Find")
	defer span.End()
	q := `SELECT id, credits, full_name, preferred_name, email, created_at FROM users WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Credits, &u.FullName, &u.PreferredName, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("op=user.find: %w", domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("op=user.find: %w", err)
	}
	return u, nil
}

// DebitCredits subtracts cost iff the balance covers it, in one guarded
// UPDATE. Zero rows affected means either the user is missing or the balance
// is short; the follow-up Find disambiguates.
func (r *UserRepo) DebitCredits(ctx domain.Context, id string, cost int) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.DebitCredits")
	defer span.End()
	span.SetAttributes(attribute.Int("credits.cost", cost))
	if cost < 0 {
		return domain.User{}, fmt.Errorf("op=user.debit: negative cost: %w", domain.ErrInvalidArgument)
	}
	q := `UPDATE users SET credits = credits - $2 WHERE id = $1 AND credits >= $2
	      RETURNING id, credits, full_name, preferred_name, email, created_at`
	row := r.Pool.QueryRow(ctx, q, id, cost)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Credits, &u.FullName, &u.PreferredName, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, ferr := r.Find(ctx, id); ferr != nil {
				return domain.User{}, ferr
			}
			return domain.User{}, fmt.Errorf("op=user.debit: %w", domain.ErrInsufficientCredits)
		}
		return domain.User{}, fmt.Errorf("op=user.debit: %w", err)
	}
	return u, nil
}

// CreditCredits unconditionally adds amount and returns the new balance.
func (r *UserRepo) CreditCredits(ctx domain.Context, id string, amount int) (int, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.CreditCredits")
	defer span.End()
	span.SetAttributes(attribute.Int("credits.amount", amount))
	if amount < 0 {
		return 0, fmt.Errorf("op=user.credit: negative amount: %w", domain.ErrInvalidArgument)
	}
	q := `UPDATE users SET credits = credits + $2 WHERE id = $1 RETURNING credits`
	row := r.Pool.QueryRow(ctx, q, id, amount)
	var credits int
	if err := row.Scan(&credits); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("op=user.credit: %w", domain.ErrNotFound)
		}
		return 0, fmt.Errorf("op=user.credit: %w", err)
	}
	return credits, nil
}
