package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultQuoteTTL = 5 * time.Minute

// QuoteSource fetches market data from an upstream provider.
type QuoteSource interface {
	CoinsMarkets(ctx context.Context, vsCurrency string, coinIDs []string, perPage, page int) ([]CoinMarket, error)
	SimplePrice(ctx context.Context, coinID, vsCurrency string) (float64, error)
}

// ServiceConfig describes the dependencies of the quote service.
type ServiceConfig struct {
	Source   QuoteSource
	Cache    QuoteCache
	Logger   *zap.Logger
	QuoteTTL time.Duration
}

// Service serves market quotes cache-aside: reads go to the cache
// first and fall through to the upstream on a miss. Cache failures are
// logged and degrade to upstream reads rather than failing the request.
type Service struct {
	source QuoteSource
	cache  QuoteCache
	logger *zap.Logger
	ttl    time.Duration
}

// NewService constructs the quote service. Cache may be nil, in which
// case every read goes upstream.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("market: quote source required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.QuoteTTL
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	return &Service{
		source: cfg.Source,
		cache:  cfg.Cache,
		logger: logger,
		ttl:    ttl,
	}, nil
}

// CoinsMarkets lists market rows, serving from cache when fresh.
func (s *Service) CoinsMarkets(ctx context.Context, vsCurrency string, coinIDs []string, perPage, page int) ([]CoinMarket, error) {
	key := marketsCacheKey(vsCurrency, coinIDs, perPage, page)

	if s.cache != nil {
		var cached []CoinMarket
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("quote cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	markets, err := s.source.CoinsMarkets(ctx, vsCurrency, coinIDs, perPage, page)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, markets, s.ttl); err != nil {
			s.logger.Warn("quote cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return markets, nil
}

// CoinPrice returns the spot price of one coin, serving from cache
// when fresh.
func (s *Service) CoinPrice(ctx context.Context, coinID, vsCurrency string) (float64, error) {
	key := fmt.Sprintf("price:%s:%s", coinID, vsCurrency)

	if s.cache != nil {
		var cached float64
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("quote cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	price, err := s.source.SimplePrice(ctx, coinID, vsCurrency)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, price, s.ttl); err != nil {
			s.logger.Warn("quote cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return price, nil
}

func marketsCacheKey(vsCurrency string, coinIDs []string, perPage, page int) string {
	ids := "all"
	if len(coinIDs) > 0 {
		ids = strings.Join(coinIDs, ",")
	}
	return fmt.Sprintf("markets:%s:%s:%d:%d", vsCurrency, ids, perPage, page)
}
