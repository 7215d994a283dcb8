package service

import (
	"log/slog"

	"github.com/kirinyoku/tixledger/internal/auth"
	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/repository"
	redisrepo "github.com/kirinyoku/tixledger/internal/repository/redis"
	"github.com/kirinyoku/tixledger/internal/service/ledger"
	"github.com/kirinyoku/tixledger/internal/service/payment"
	"github.com/kirinyoku/tixledger/internal/service/registry"
)

type Services struct {
	Registry *registry.Service
	Ledger   *ledger.Service
	Payment  *payment.Service
}

type Config struct {
	Registry    registry.Config
	Ledger      ledger.Config
	AssetIssuer domain.Identity
}

func NewServices(
	store repository.Store,
	cache *redisrepo.Cache,
	pubsub *redisrepo.TicketsPubSub,
	limiter ledger.Limiter,
	authz auth.Authorizer,
	log *slog.Logger,
	cfg Config,
) *Services {
	reg := registry.New(store, cache, authz, log, cfg.Registry)
	pay := payment.New(store, authz, cfg.AssetIssuer)

	return &Services{
		Registry: reg,
		Payment:  pay,
		Ledger: ledger.New(store, reg, pay, authz, ledger.Deps{
			Cache:   cache,
			PubSub:  pubsub,
			Limiter: limiter,
			Log:     log,
		}, cfg.Ledger),
	}
}
