package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ainopay/internal/core"
	ports "ainopay/internal/sheets"

	"github.com/google/uuid"
)

var _ ports.PaymentMirror = (*Store)(nil)

// Store is an in-process mirror keeping rows in insertion order.
type Store struct {
	mu   sync.Mutex
	rows [][]string
}

func New() *Store {
	return &Store{}
}

// Upsert replaces the row with p's id or appends a new one.
func (s *Store) Upsert(_ context.Context, p core.Payment) (string, error) {
	if p.ID == uuid.Nil {
		return "", errors.New("payment id is required")
	}
	row := ports.Row(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(p.ID); i >= 0 {
		s.rows[i] = row
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

func (s *Store) Remove(_ context.Context, paymentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.index(paymentID); i >= 0 {
		s.rows = append(s.rows[:i], s.rows[i+1:]...)
	}
	return nil
}

// Rows returns a copy of the mirrored rows.
func (s *Store) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

func (s *Store) index(id uuid.UUID) int {
	key := id.String()
	for i, r := range s.rows {
		if r[0] == key {
			return i
		}
	}
	return -1
}
