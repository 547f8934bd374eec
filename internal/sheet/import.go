package sheet

import (
	"errors"
	"fmt"

	"github.com/dukerupert/patrimonio/internal/model"
)

// Upserter stores an equipment record keyed by name.
type Upserter interface {
	Upsert(e model.Equipment) (*model.Equipment, bool, error)
}

// NamedUpserter is an Upserter that can also look records up by name.
type NamedUpserter interface {
	Upserter
	GetByName(name string) (*model.Equipment, error)
}

var ErrOtherSector = errors.New("equipment belongs to another sector")

// Scoped limits an import to one sector. Rows without a sector take it;
// rows naming another sector, or matching equipment registered in another
// sector, are rejected.
type Scoped struct {
	Store  NamedUpserter
	Sector string
}

func (s Scoped) Upsert(e model.Equipment) (*model.Equipment, bool, error) {
	if e.Sector == "" {
		e.Sector = s.Sector
	}
	if e.Sector != s.Sector {
		return nil, false, fmt.Errorf("%w: %s", ErrOtherSector, e.Sector)
	}
	existing, err := s.Store.GetByName(e.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.Sector != s.Sector {
		return nil, false, ErrOtherSector
	}
	return s.Store.Upsert(e)
}

type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

type Result struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Errors  []RowError `json:"errors"`
}

// Import stores every valid row. Invalid rows and rows the store rejects are
// reported by line and do not stop the import. Status is never imported:
// new records start AVAILABLE and existing ones keep theirs.
func Import(rows []Row, store Upserter) Result {
	res := Result{Errors: []RowError{}}
	for _, row := range rows {
		if row.Err != nil {
			res.Errors = append(res.Errors, RowError{Line: row.Line, Message: row.Err.Error()})
			continue
		}
		e := row.Equipment
		e.Status = ""
		_, created, err := store.Upsert(e)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Line: row.Line, Message: fmt.Sprintf("save %q: %v", e.Name, err)})
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res
}
