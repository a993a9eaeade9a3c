// internal/membership/members.go
package membership

import (
	"context"
	"strings"

	"swimdesk/internal/apperr"
	"swimdesk/internal/domain"
	"swimdesk/internal/store"
)

// searchLimit caps kiosk search results.
const searchLimit = 10

// SearchMembers matches active members by first name, last name or phone,
// ignoring case.
func (s *Manager) SearchMembers(ctx context.Context, query string) ([]*domain.Member, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.InvalidInput("search query is required")
	}
	ctx, span := s.tracer.Start(ctx, "membership.search_members")
	defer span.End()

	var out []*domain.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.SearchMembers(ctx, query, searchLimit)
		return err
	})
	return out, err
}

// ListMembers returns every active member ordered by name.
func (s *Manager) ListMembers(ctx context.Context) ([]*domain.Member, error) {
	var out []*domain.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListActiveMembers(ctx)
		return err
	})
	return out, err
}
