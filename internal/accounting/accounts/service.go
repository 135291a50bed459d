package accounts

import "context"

type Service struct {
	repo     Repository
	resolver *Resolver
}

func NewService(repo Repository, resolver *Resolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

func (s *Service) Mappings(ctx context.Context) ([]RoleMapping, error) {
	return s.repo.ListMappings(ctx)
}

// Reload refreshes the resolver snapshot after the chart changed.
func (s *Service) Reload(ctx context.Context) error {
	if s.resolver == nil {
		return nil
	}
	return s.resolver.Refresh(ctx)
}
