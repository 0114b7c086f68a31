package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	"caredrop/pkg/platform/sentinel"
)

// Demo fixture identifiers are fixed so local tokens can target them.
var (
	DemoAgencyNorth = id.AgencyID(uuid.MustParse("6f1c1b0e-3a52-4e43-9d0b-0a3f5b1d2c01"))
	DemoAgencySouth = id.AgencyID(uuid.MustParse("6f1c1b0e-3a52-4e43-9d0b-0a3f5b1d2c02"))
)

var demoRoster = []struct {
	id       string
	agency   id.AgencyID
	fullName string
	contact  string
}{
	{"0b7e6f2a-1c3d-4a5b-8e9f-000000000001", DemoAgencyNorth, "Maria Lopez", "maria@north.example"},
	{"0b7e6f2a-1c3d-4a5b-8e9f-000000000002", DemoAgencyNorth, "James Chen", "james@north.example"},
	{"0b7e6f2a-1c3d-4a5b-8e9f-000000000003", DemoAgencyNorth, "Aisha Bello", "aisha@north.example"},
	{"0b7e6f2a-1c3d-4a5b-8e9f-000000000004", DemoAgencySouth, "Tom Novak", "tom@south.example"},
}

// SeedDemo creates two agencies and their rosters for local runs.
// Records that already exist are left untouched.
func SeedDemo(ctx context.Context, s Store) error {
	agencies := []*models.Agency{
		{ID: DemoAgencyNorth, Name: "North Home Care"},
		{ID: DemoAgencySouth, Name: "South Hospice"},
	}
	for _, agency := range agencies {
		if err := ignoreExisting(s.CreateAgency(ctx, agency)); err != nil {
			return fmt.Errorf("seed agency %s: %w", agency.Name, err)
		}
	}
	for _, row := range demoRoster {
		entry := &models.RosterEntry{
			ID:       id.RosterEntryID(uuid.MustParse(row.id)),
			AgencyID: row.agency,
			FullName: row.fullName,
			Contact:  row.contact,
		}
		if err := ignoreExisting(s.CreateRosterEntry(ctx, entry)); err != nil {
			return fmt.Errorf("seed roster entry %s: %w", row.fullName, err)
		}
	}
	return nil
}

// NewSeededInMemory returns an in-memory store holding the demo fixtures.
func NewSeededInMemory() *InMemory {
	s := NewInMemory()
	_ = SeedDemo(context.Background(), s)
	return s
}

func ignoreExisting(err error) error {
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return nil
	}
	return err
}
