package recommend

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/rank"
)

// Config holds every tunable of the ranking engine.
type Config struct {
	// Dimensions is the embedding length D shared by articles and profiles.
	Dimensions int `koanf:"dimensions" validate:"gt=0"`

	Fusion    rank.Profiles       `koanf:"fusion"`
	MMR       rank.MMROptions     `koanf:"mmr"`
	Shuffle   rank.ShuffleOptions `koanf:"shuffle"`
	Quality   QualityConfig       `koanf:"quality"`
	Retrieval RetrievalConfig     `koanf:"retrieval"`
	Search    SearchConfig        `koanf:"search"`
	Cache     CacheConfig         `koanf:"cache"`

	DefaultLimit int `koanf:"default_limit" validate:"gt=0"`
	MaxLimit     int `koanf:"max_limit" validate:"gtefield=DefaultLimit"`

	// CategoryAliases maps display names to stored category labels.
	CategoryAliases map[string]string `koanf:"category_aliases"`

	// Seed drives the soft shuffle. Zero seeds from the clock.
	Seed int64 `koanf:"seed"`
}

// QualityConfig is the content filter applied before scoring.
type QualityConfig struct {
	// MinTitleLength is counted in runes after trimming.
	MinTitleLength int      `koanf:"min_title_length" validate:"gte=0"`
	BanWords       []string `koanf:"ban_words"`
	RequiredStatus string   `koanf:"required_status"`
}

// RetrievalConfig sizes the candidate fetch.
type RetrievalConfig struct {
	RecencyWindow    time.Duration `koanf:"recency_window" validate:"gt=0"`
	TrendPoolSize    int           `koanf:"trend_pool_size" validate:"gt=0"`
	KNNK             int           `koanf:"knn_k" validate:"gt=0"`
	KNNNumCandidates int           `koanf:"knn_num_candidates" validate:"gtefield=KNNK"`
	// RelatedWindow bounds related-article candidates; 0 means no window.
	RelatedWindow time.Duration `koanf:"related_window" validate:"gte=0"`
}

// SearchConfig tunes hybrid search fusion.
type SearchConfig struct {
	RRFK         int     `koanf:"rrf_k" validate:"gt=0"`
	TextWeight   float64 `koanf:"text_weight" validate:"gte=0"`
	VectorWeight float64 `koanf:"vector_weight" validate:"gte=0"`
	PoolSize     int     `koanf:"pool_size" validate:"gt=0"`
}

// CacheConfig controls the trend candidate cache.
type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	Size    int           `koanf:"size" validate:"gte=0"`
	TTL     time.Duration `koanf:"ttl" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Dimensions: 768,
		Fusion:     rank.DefaultProfiles(),
		MMR:        rank.DefaultMMROptions(),
		Shuffle:    rank.DefaultShuffleOptions(),
		Quality: QualityConfig{
			MinTitleLength: 12,
			RequiredStatus: article.StatusProcessed,
		},
		Retrieval: RetrievalConfig{
			RecencyWindow:    72 * time.Hour,
			TrendPoolSize:    100,
			KNNK:             200,
			KNNNumCandidates: 400,
		},
		Search: SearchConfig{
			RRFK:         60,
			TextWeight:   1,
			VectorWeight: 1,
			PoolSize:     100,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    64,
			TTL:     30 * time.Second,
		},
		DefaultLimit: 20,
		MaxLimit:     100,
	}
}

var validate = validator.New()

// Validate checks field ranges and the cross-field invariants.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid recommend config: %w", err)
	}
	if err := c.Fusion.Validate(); err != nil {
		return err
	}
	if err := c.MMR.Validate(c.DefaultLimit); err != nil {
		return fmt.Errorf("default_limit: %w", err)
	}
	if c.Search.TextWeight+c.Search.VectorWeight == 0 {
		return fmt.Errorf("search weights must not both be 0")
	}
	return nil
}

// resolveCategory maps an alias to its stored label.
func (c Config) resolveCategory(name string) string {
	if v, ok := c.CategoryAliases[name]; ok && v != "" {
		return v
	}
	return name
}
