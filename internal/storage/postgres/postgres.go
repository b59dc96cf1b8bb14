package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"crop_price_api/internal/config"
	"crop_price_api/internal/models"
	"crop_price_api/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// DBTX is the part of pgx shared by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepo struct {
	pool *pgxpool.Pool
	db   DBTX
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = cfg.Postgres.MaxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool, db: pool}, nil
}

// NewWithDB wraps an existing connection. Migrate and Close are no-ops without a pool.
func NewWithDB(db DBTX) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Migrate applies the embedded goose migrations.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	if r.pool == nil {
		return nil
	}

	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

const userColumns = `id, email, username, password_hash, is_active, is_verified, is_deleted, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.IsActive,
		&u.IsVerified,
		&u.IsDeleted,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

// SaveUser inserts a user with a fresh ULID and returns the stored row.
func (r *PostgresRepo) SaveUser(ctx context.Context, user models.User) (models.User, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (id, email, username, password_hash, is_active, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns + `;
	`

	saved, err := scanUser(r.db.QueryRow(ctx, query,
		ulid.Make().String(),
		user.Email,
		user.Username,
		user.PasswordHash,
		user.IsActive,
		user.IsVerified,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrUserExists
		}

		return models.User{}, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return saved, nil
}

// UserByIdentifier finds a live user by email or username.
func (r *PostgresRepo) UserByIdentifier(ctx context.Context, identifier string) (models.User, error) {
	const op = "storage.postgres.UserByIdentifier"

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE (email = $1 OR username = $1) AND is_deleted = FALSE;
	`

	u, err := scanUser(r.db.QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UserByID(ctx context.Context, id string) (models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1;
	`

	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "storage.postgres.UpdatePasswordHash"

	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE;
	`

	tag, err := r.db.Exec(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

const apiKeyColumns = `id, service_name, key_hash, is_active, scopes, last_used_at, created_at, updated_at`

func scanAPIKey(row pgx.Row) (models.APIKey, error) {
	var k models.APIKey

	err := row.Scan(
		&k.ID,
		&k.ServiceName,
		&k.KeyHash,
		&k.IsActive,
		&k.Scopes,
		&k.LastUsedAt,
		&k.CreatedAt,
		&k.UpdatedAt,
	)

	return k, err
}

func (r *PostgresRepo) SaveAPIKey(ctx context.Context, serviceName, keyHash string) (models.APIKey, error) {
	const op = "storage.postgres.SaveAPIKey"

	query := `
		INSERT INTO core.service_api_keys (id, service_name, key_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + apiKeyColumns + `;
	`

	k, err := scanAPIKey(r.db.QueryRow(ctx, query, ulid.Make().String(), serviceName, keyHash))
	if err != nil {
		if isUniqueViolation(err) {
			return models.APIKey{}, storage.ErrAPIKeyExists
		}

		return models.APIKey{}, fmt.Errorf("%s: failed to save api key: %w", op, err)
	}

	return k, nil
}

func (r *PostgresRepo) APIKeyByHash(ctx context.Context, keyHash string) (models.APIKey, error) {
	const op = "storage.postgres.APIKeyByHash"

	query := `
		SELECT ` + apiKeyColumns + `
		FROM core.service_api_keys
		WHERE key_hash = $1;
	`

	k, err := scanAPIKey(r.db.QueryRow(ctx, query, keyHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.APIKey{}, storage.ErrAPIKeyNotFound
		}

		return models.APIKey{}, fmt.Errorf("%s: %w", op, err)
	}

	return k, nil
}

func (r *PostgresRepo) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	const op = "storage.postgres.TouchAPIKeyLastUsed"

	query := `UPDATE core.service_api_keys SET last_used_at = NOW() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LatestPrices reads the latest price view ordered by id, strictly after filter.AfterID.
func (r *PostgresRepo) LatestPrices(ctx context.Context, filter models.LatestPriceFilter) ([]models.LatestPrice, error) {
	const op = "storage.postgres.LatestPrices"

	query := `
		SELECT id, crop_id, crop, unit, category_id, economic_center_id, language_code,
			wholesale_price_today, wholesale_price_yesterday, retail_price_today, retail_price_yesterday
		FROM crop_price_dw.mv_latest_crop_prices
		WHERE language_code = $1
			AND economic_center_id = $2
			AND ($3::bigint[] IS NULL OR crop_id = ANY($3))
			AND ($4::bigint[] IS NULL OR category_id = ANY($4))
			AND ($5::bigint IS NULL OR id > $5)
		ORDER BY id
		LIMIT $6;
	`

	rows, err := r.db.Query(ctx, query,
		filter.LanguageCode,
		filter.EconomicCenterID,
		nilIfEmpty(filter.CropIDs),
		nilIfEmpty(filter.CategoryIDs),
		filter.AfterID,
		filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	prices := make([]models.LatestPrice, 0, filter.Limit)

	for rows.Next() {
		var p models.LatestPrice

		err := rows.Scan(
			&p.ID,
			&p.CropID,
			&p.Crop,
			&p.Unit,
			&p.CategoryID,
			&p.EconomicCenterID,
			&p.LanguageCode,
			&p.WholesalePriceToday,
			&p.WholesalePriceYesterday,
			&p.RetailPriceToday,
			&p.RetailPriceYesterday,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return prices, nil
}

// PriceHistory reads the past week view newest first, strictly before filter.Before.
func (r *PostgresRepo) PriceHistory(ctx context.Context, filter models.PriceHistoryFilter) ([]models.DailyPrice, error) {
	const op = "storage.postgres.PriceHistory"

	query := `
		SELECT date, crop_id, economic_center_id, wholesale_price, retail_price
		FROM crop_price_dw.mv_past_week_crop_price
		WHERE economic_center_id = $1
			AND crop_id = $2
			AND ($3::date IS NULL OR date < $3)
		ORDER BY date DESC
		LIMIT $4;
	`

	rows, err := r.db.Query(ctx, query,
		filter.EconomicCenterID,
		filter.CropID,
		filter.Before,
		filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	prices := make([]models.DailyPrice, 0, filter.Limit)

	for rows.Next() {
		var p models.DailyPrice

		if err := rows.Scan(&p.Date, &p.CropID, &p.EconomicCenterID, &p.WholesalePrice, &p.RetailPrice); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return prices, nil
}

// metadataTables maps a metadata attribute to its translation table.
var metadataTables = map[string]string{
	"crop":            "crop_price_dw.crop_translation",
	"crop_category":   "crop_price_dw.crop_category_translation",
	"data_source":     "crop_price_dw.data_source_translation",
	"economic_center": "crop_price_dw.economic_center_translation",
	"price_type":      "crop_price_dw.price_type_translation",
}

// Metadata lists the translated names of one reference dimension.
func (r *PostgresRepo) Metadata(ctx context.Context, attribute, languageCode string) ([]models.MetadataItem, error) {
	const op = "storage.postgres.Metadata"

	table, ok := metadataTables[attribute]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUnknownAttribute)
	}

	query := `SELECT ref_id, name FROM ` + table + ` WHERE language_code = $1 ORDER BY ref_id`

	rows, err := r.db.Query(ctx, query, languageCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]models.MetadataItem, 0)

	for rows.Next() {
		var item models.MetadataItem

		if err := rows.Scan(&item.ID, &item.Value); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

// DataFreshness returns when the cbsl source was last processed, or nil if it never was.
func (r *PostgresRepo) DataFreshness(ctx context.Context) (*time.Time, error) {
	const op = "storage.postgres.DataFreshness"

	query := `
		SELECT max(processed_at) FILTER (WHERE data_source = 'cbsl') AS cbsl
		FROM manifests.mv_data_freshness;
	`

	var processedAt *time.Time

	if err := r.db.QueryRow(ctx, query).Scan(&processedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return processedAt, nil
}

func (r *PostgresRepo) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nilIfEmpty(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}

	return ids
}

// * dsn builds the connection string from config.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
