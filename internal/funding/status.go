package funding

import (
	"context"
	"errors"

	"github.com/congo-pay/cardrail/internal/apperror"
	"github.com/congo-pay/cardrail/internal/ledger"
)

// StatusResult reports a card's status after freeze or unfreeze.
type StatusResult struct {
	CardID string
	Status ledger.CardStatus
}

// FreezeCard blocks further funding and withdrawal on an active card.
func (s *Service) FreezeCard(ctx context.Context, companyID, cardID string) (StatusResult, error) {
	return s.transition(ctx, companyID, cardID, ledger.CardActive, ledger.CardFrozen)
}

// UnfreezeCard reactivates a frozen card.
func (s *Service) UnfreezeCard(ctx context.Context, companyID, cardID string) (StatusResult, error) {
	return s.transition(ctx, companyID, cardID, ledger.CardFrozen, ledger.CardActive)
}

func (s *Service) transition(ctx context.Context, companyID, cardID string, from, to ledger.CardStatus) (StatusResult, error) {
	card, err := s.store.Card(ctx, cardID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return StatusResult{}, apperror.NotFound(msgCardNotFound)
		}
		return StatusResult{}, apperror.Persistence("load card", err)
	}
	if card.CompanyID != companyID || card.Status == ledger.CardTerminated {
		return StatusResult{}, apperror.NotFound(msgCardNotFound)
	}
	if card.Status != from {
		return StatusResult{}, apperror.Validation("card is already " + string(card.Status))
	}

	updated, err := s.store.SetCardStatus(ctx, cardID, from, to)
	if err != nil {
		if errors.Is(err, ledger.ErrStatusChanged) {
			return StatusResult{}, apperror.Conflict("card status changed, retry", err)
		}
		return StatusResult{}, apperror.Persistence("update card status", err)
	}
	s.logger.Info("card status changed",
		"card_id", cardID, "company_id", companyID, "from", string(from), "to", string(updated.Status))
	return StatusResult{CardID: updated.ID, Status: updated.Status}, nil
}
