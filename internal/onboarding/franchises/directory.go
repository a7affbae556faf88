// internal/onboarding/franchises/directory.go

// Package franchises lists the franchises a merchant can be onboarded under.
package franchises

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
)

const (
	CacheKey = "onboarding:franchises:all"

	approvedStatus = "approved"
)

type Config struct {
	CacheTTL   time.Duration
	Index      string
	SearchSize int
}

// Directory serves franchise options from Postgres, cached in Redis. Free
// text queries go to Elasticsearch when a client is configured.
type Directory struct {
	config *Config
	db     *sql.DB
	redis  *redis.Client
	es     *elasticsearch.Client
	logger logger.Logger
}

// NewDirectory builds a directory. es may be nil.
func NewDirectory(config *Config, db *sql.DB, redis *redis.Client, es *elasticsearch.Client, log logger.Logger) *Directory {
	if config.SearchSize <= 0 {
		config.SearchSize = 50
	}
	return &Directory{
		config: config,
		db:     db,
		redis:  redis,
		es:     es,
		logger: log.WithFields(map[string]interface{}{"component": "franchise-directory"}),
	}
}

// List returns approved franchises ordered by display name. A non-empty
// query narrows the list by display name.
func (d *Directory) List(ctx context.Context, query string) ([]models.FranchiseOption, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return d.all(ctx)
	}

	if d.es != nil {
		options, err := d.search(ctx, query)
		if err == nil {
			return options, nil
		}
		d.logger.Warn("franchise search failed, filtering directory instead", map[string]interface{}{
			"query": query,
			"error": err,
		})
	}

	all, err := d.all(ctx)
	if err != nil {
		return nil, err
	}
	return filter(all, query), nil
}

// Exists reports whether id is an approved franchise.
func (d *Directory) Exists(ctx context.Context, id string) (bool, error) {
	all, err := d.all(ctx)
	if err != nil {
		return false, err
	}
	for _, opt := range all {
		if opt.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Prefetch loads the directory into the cache.
func (d *Directory) Prefetch(ctx context.Context) error {
	if n, err := d.redis.Exists(ctx, CacheKey).Result(); err == nil && n > 0 {
		return nil
	}

	options, err := d.load(ctx)
	if err != nil {
		return err
	}
	d.store(ctx, options)
	d.logger.Debug("franchise directory prefetched", map[string]interface{}{"count": len(options)})
	return nil
}

// Invalidate drops the cached directory.
func (d *Directory) Invalidate(ctx context.Context) error {
	if err := d.redis.Del(ctx, CacheKey).Err(); err != nil {
		return apperrors.NewCacheUnavailableError(err)
	}
	return nil
}

func (d *Directory) all(ctx context.Context) ([]models.FranchiseOption, error) {
	if val, err := d.redis.Get(ctx, CacheKey).Result(); err == nil {
		var options []models.FranchiseOption
		if err := json.Unmarshal([]byte(val), &options); err == nil {
			return options, nil
		}
	}

	options, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	d.store(ctx, options)
	return options, nil
}

func (d *Directory) load(ctx context.Context) ([]models.FranchiseOption, error) {
	query := `SELECT id, display_name FROM franchises WHERE status = $1 ORDER BY display_name ASC`

	rows, err := d.db.QueryContext(ctx, query, approvedStatus)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list_franchises", err)
	}
	defer rows.Close()

	options := make([]models.FranchiseOption, 0)
	for rows.Next() {
		var f models.Franchise
		if err := rows.Scan(&f.ID, &f.DisplayName); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("list_franchises", err)
		}
		options = append(options, f.Option())
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list_franchises", err)
	}
	return options, nil
}

func (d *Directory) store(ctx context.Context, options []models.FranchiseOption) {
	data, err := json.Marshal(options)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, CacheKey, data, d.config.CacheTTL).Err(); err != nil {
		d.logger.Warn("failed to cache franchise directory", map[string]interface{}{"error": err})
	}
}

func filter(options []models.FranchiseOption, query string) []models.FranchiseOption {
	needle := strings.ToLower(query)
	out := make([]models.FranchiseOption, 0)
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.DisplayName), needle) {
			out = append(out, opt)
		}
	}
	return out
}
