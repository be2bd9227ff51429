package service

import (
	"context"
	"fmt"

	"github.com/chickenbids/auction/internal/domain"
)

// AuditService scans auctions for broken cross-entity invariants and
// escalates every finding.
type AuditService struct {
	Deps
}

// NewAuditService creates an AuditService.
func NewAuditService(deps Deps) *AuditService {
	return &AuditService{Deps: deps}
}

// Check inspects every auction together with its active bids.
func (s *AuditService) Check(ctx context.Context) ([]domain.Violation, error) {
	auctions, err := s.Auctions.ListByStatus(ctx,
		domain.StatusScheduled, domain.StatusLive, domain.StatusPaused,
		domain.StatusCompleted, domain.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("audit_service.Check: %w", err)
	}

	var found []domain.Violation
	for _, a := range auctions {
		active, err := s.Bids.ListActive(ctx, a.ID)
		if err != nil {
			return found, fmt.Errorf("audit_service.Check: %w", err)
		}
		for _, v := range domain.CheckConsistency(a, active) {
			s.escalate(ctx, v)
			found = append(found, v)
		}
	}
	s.Logger.Debug("consistency check done", "auctions", len(auctions), "violations", len(found))
	return found, nil
}
