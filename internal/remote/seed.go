package remote

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/playperu/checkin/internal/checkin"
)

type seedFile struct {
	Groups []checkin.GuestGroup `yaml:"groups"`
}

// LoadSeed reads guest groups from a YAML file of the form
//
//	groups:
//	  - id: g1
//	    primaryContactName: Rosa Quispe
//	    tickets:
//	      - {id: t1, ticketCode: A001, holderName: Rosa Quispe}
//
// Tickets without a status are pending.
func LoadSeed(path string) ([]checkin.GuestGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	seen := make(map[string]string)
	for gi := range f.Groups {
		g := &f.Groups[gi]
		if g.ID == "" {
			return nil, fmt.Errorf("seed group %d has no id", gi)
		}
		for ti := range g.Tickets {
			t := &g.Tickets[ti]
			if t.TicketCode == "" {
				return nil, fmt.Errorf("seed group %q ticket %d has no code", g.ID, ti)
			}
			if other, ok := seen[t.TicketCode]; ok {
				return nil, fmt.Errorf("ticket code %q appears in groups %q and %q", t.TicketCode, other, g.ID)
			}
			seen[t.TicketCode] = g.ID
			if t.Status == "" {
				t.Status = checkin.TicketPending
			}
		}
	}
	return f.Groups, nil
}

// Seed writes groups into s.
func Seed(ctx context.Context, s Seeder, groups []checkin.GuestGroup) error {
	for _, g := range groups {
		if err := s.PutGroup(ctx, g); err != nil {
			return fmt.Errorf("seeding group %q: %w", g.ID, err)
		}
	}
	return nil
}
