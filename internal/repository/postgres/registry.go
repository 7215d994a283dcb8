package postgresrepo

import (
	"context"

	"github.com/kirinyoku/tixledger/internal/domain"
)

type RegistryRepo struct {
	db DB
}

func (r *RegistryRepo) Get(ctx context.Context) (*domain.Registry, error) {
	const op = "postgresrepo.RegistryRepo.Get"

	var (
		reg       domain.Registry
		organizer string
		asset     string
	)
	err := r.db.QueryRow(ctx,
		`SELECT organizer, asset, ticket_count
		 FROM registry WHERE id = 1`,
	).Scan(&organizer, &asset, &reg.TicketCount)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	reg.Organizer = domain.Identity(organizer)
	reg.Asset = domain.Identity(asset)

	return &reg, nil
}

func (r *RegistryRepo) Create(ctx context.Context, reg domain.Registry) error {
	const op = "postgresrepo.RegistryRepo.Create"

	_, err := r.db.Exec(ctx,
		`INSERT INTO registry(id, organizer, asset, ticket_count)
		 VALUES (1, $1, $2, $3)`,
		string(reg.Organizer), string(reg.Asset), reg.TicketCount,
	)

	return wrapDBErr(op, err)
}

func (r *RegistryRepo) IncrementTicketCount(ctx context.Context) (uint32, error) {
	const op = "postgresrepo.RegistryRepo.IncrementTicketCount"

	var prev uint32
	err := r.db.QueryRow(ctx,
		`UPDATE registry
		 SET ticket_count = ticket_count + 1
		 WHERE id = 1
		 RETURNING ticket_count - 1`,
	).Scan(&prev)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return prev, nil
}
