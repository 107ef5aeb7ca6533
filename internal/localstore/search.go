package localstore

import (
	"context"
	"strings"

	"github.com/playperu/checkin/internal/checkin"
)

// Search returns groups whose contact, table label, ticket holder or ticket
// code contains query, case-insensitively. An empty query matches nothing.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]checkin.GuestGroup, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []checkin.GuestGroup{}, nil
	}

	groups, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := []checkin.GuestGroup{}
	for _, g := range groups {
		if limit > 0 && len(matches) >= limit {
			break
		}
		if groupMatches(g, query) {
			matches = append(matches, g)
		}
	}
	return matches, nil
}

func groupMatches(g checkin.GuestGroup, q string) bool {
	fields := []string{g.PrimaryContactName, g.ContactPhone, g.TableOrZoneLabel}
	for _, t := range g.Tickets {
		fields = append(fields, t.HolderName, t.TicketCode)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func (s *Store) Stats(ctx context.Context) (checkin.Stats, error) {
	groups, err := s.GetAll(ctx)
	if err != nil {
		return checkin.Stats{}, err
	}
	var st checkin.Stats
	st.Groups = len(groups)
	for _, g := range groups {
		for _, t := range g.Tickets {
			st.Tickets++
			if t.Redeemed() {
				st.Redeemed++
			}
		}
	}
	return st, nil
}
