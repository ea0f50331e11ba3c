package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/internal/config"
	"marketplace/internal/models"
	"marketplace/internal/supabase"

	postgres "marketplace/internal/repository/db"
)

// Repository is the typed data-access facade over the Supabase project. Every call runs with the
// access token found in ctx (see supabase.WithAccessToken), so row-level security applies.
// The optional direct Postgres connection is only used for schema migrations.
type Repository struct {
	client *supabase.Client
	db     *sql.DB
	cfg    *config.PostgresConfig
}

func NewRepository(client *supabase.Client, db *sql.DB, cfg *config.PostgresConfig) (*Repository, error) {
	var err error

	if client == nil {
		return nil, errors.New("repository.NewRepository: supabase client is required")
	}

	repo := &Repository{
		client: client,
		db:     db,
		cfg:    cfg,
	}

	if repo.cfg == nil {
		repo.cfg, err = config.NewPostgresConfig()
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not load postgres config: %w", err)
		}
	}

	if repo.db == nil && repo.cfg.Conn != "" {
		repo.db, err = postgres.NewPostgresDB(repo.cfg.Conn)
		if err != nil {
			return nil, fmt.Errorf("repository.NewRepository: could not open postgres db: %w", err)
		}
	}

	if repo.db != nil && repo.cfg.AutoMigrateUp == "true" {
		err = repo.MigrateUp()
		if err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func (repo *Repository) MigrateUp() error {
	if repo.db == nil {
		return nil
	}
	err := postgres.MigrateUp(repo.db)
	if err != nil {
		return fmt.Errorf("repository.Repository.MigrateUp: %w", err)
	}
	return nil
}

func (repo *Repository) MigrateDown() error {
	if repo.db == nil {
		return nil
	}
	err := postgres.MigrateDown(repo.db)
	if err != nil {
		return fmt.Errorf("repository.Repository.MigrateDown: %w", err)
	}
	return nil
}

//// Users

func (repo *Repository) UserByUUID(ctx context.Context, UUID string) (models.User, bool, error) {
	var user models.User
	err := repo.client.From("users").
		Select("*").
		Eq("id", UUID).
		Single().
		ExecuteInto(ctx, &user)

	if supabase.IsNotFound(err) {
		return user, false, nil
	} else if err != nil {
		return user, false, fmt.Errorf("repository.Repository.UserByUUID: %w", err)
	}

	return user, true, nil
}

// UsersByUUIDs fetches the profiles for a set of ids in one call. Ids without a visible profile
// are simply absent from the result.
func (repo *Repository) UsersByUUIDs(ctx context.Context, UUIDs []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(UUIDs))
	if len(UUIDs) == 0 {
		return result, nil
	}

	var users []models.User
	err := repo.client.From("users").
		Select("id,name,role").
		In("id", UUIDs).
		ExecuteInto(ctx, &users)
	if err != nil {
		return nil, fmt.Errorf("repository.Repository.UsersByUUIDs: %w", err)
	}

	for _, u := range users {
		result[u.Id] = u
	}
	return result, nil
}

type userRow struct {
	Id   string      `json:"id"`
	Name string      `json:"name"`
	Role models.Role `json:"role"`
}

// ProvisionUser inserts the profile unless one already exists for the id and returns the stored row.
// Concurrent first logins are safe: the losing insert is ignored and both read the same row.
func (repo *Repository) ProvisionUser(ctx context.Context, user models.User) (models.User, error) {
	_, err := repo.client.From("users").
		Upsert(userRow{Id: user.Id, Name: user.Name, Role: user.Role}, "id", true).
		Execute(ctx)
	if err != nil {
		return user, fmt.Errorf("repository.Repository.ProvisionUser: %w", err)
	}

	stored, ok, err := repo.UserByUUID(ctx, user.Id)
	if err != nil {
		return user, fmt.Errorf("repository.Repository.ProvisionUser: %w", err)
	}
	if !ok {
		return user, fmt.Errorf("repository.Repository.ProvisionUser: %w", models.ErrProfileProvisioning)
	}
	return stored, nil
}

func (repo *Repository) Close() error {
	if repo.db == nil {
		return nil
	}

	var migErr error
	if repo.cfg.AutoMigrateDown == "true" {
		migErr = repo.MigrateDown()
	}

	err := repo.db.Close()
	return errors.Join(migErr, err)
}
