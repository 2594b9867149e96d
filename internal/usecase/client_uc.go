// File: internal/usecase/client_uc.go
package usecase

import (
	"context"

	"github.com/google/uuid"

	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
)

// ClientUseCase is the thin customer-record surface the admin layer needs
// before it can issue licenses. No invariants beyond basic validation.
type ClientUseCase struct {
	cliRepo repository.ClientRepository
}

func NewClientUseCase(cliRepo repository.ClientRepository) *ClientUseCase {
	return &ClientUseCase{cliRepo: cliRepo}
}

func (uc *ClientUseCase) Create(ctx context.Context, name, email, document string) (*model.Client, error) {
	c, err := model.NewClient(uuid.NewString(), name, email, document)
	if err != nil {
		return nil, err
	}
	if err := uc.cliRepo.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (uc *ClientUseCase) Get(ctx context.Context, id string) (*model.Client, error) {
	return uc.cliRepo.FindByID(ctx, repository.NoTX, id)
}

func (uc *ClientUseCase) List(ctx context.Context, offset, limit int) ([]*model.Client, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return uc.cliRepo.List(ctx, repository.NoTX, offset, limit)
}

// Deactivate flips the active flag; inactive clients cannot receive new
// licenses but existing ones keep validating.
func (uc *ClientUseCase) Deactivate(ctx context.Context, id string) (*model.Client, error) {
	c, err := uc.cliRepo.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	c.Active = false
	if err := uc.cliRepo.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	return c, nil
}
