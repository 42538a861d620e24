package circulation

import (
	"context"
	"sort"
	"sync"
	"time"

	"LIBRIS-backend/internal/books"
)

type memBook struct {
	ISBN      string
	Accession string
	Title     string
	Quantity  int
}

// memLedger は MySQL の Store と同じ約束事を守るテスト用 Ledger
type memLedger struct {
	mu         sync.Mutex
	books      []*memBook
	borrows    map[string]*Borrow
	returns    []*ReturnRecord
	tombstones map[string]string // borrow_id -> return_ulid
	nextID     int64

	// beforeClose は ExecCloseBorrow の直前に呼ばれる（並行返却の再現用）
	beforeClose func()
}

var _ Ledger = (*memLedger)(nil)

func newMemLedger() *memLedger {
	return &memLedger{borrows: map[string]*Borrow{}, tombstones: map[string]string{}}
}

func (m *memLedger) addBook(b memBook) *memBook {
	m.mu.Lock()
	defer m.mu.Unlock()
	bk := b
	m.books = append(m.books, &bk)
	return &bk
}

func (m *memLedger) addBorrow(b Borrow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrows[b.BorrowID] = &b
}

func (m *memLedger) find(ref books.Ref) *memBook {
	switch ref.Kind {
	case books.KindISBN:
		for _, b := range m.books {
			if b.ISBN == ref.Value {
				return b
			}
		}
	case books.KindAccession:
		for _, b := range m.books {
			if b.Accession == ref.Value {
				return b
			}
		}
	default:
		for _, b := range m.books {
			if b.ISBN == ref.Value {
				return b
			}
		}
		for _, b := range m.books {
			if b.Accession == ref.Value {
				return b
			}
		}
	}
	return nil
}

func (m *memLedger) quantity(b *memBook) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return b.Quantity
}

func (m *memLedger) GetBorrow(_ context.Context, id string) (*Borrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.borrows[id]
	if !ok {
		return nil, ErrNotFound("borrow not found")
	}
	cp := *b
	return &cp, nil
}

func (m *memLedger) ListBorrows(_ context.Context, f BorrowFilter, p Page) ([]Borrow, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Borrow
	for _, b := range m.borrows {
		if f.StudentNo != "" && b.StudentNo != f.StudentNo {
			continue
		}
		switch f.Status {
		case StatusOpen, StatusOverdue:
			if b.Closed() {
				continue
			}
		case StatusClosed:
			if !b.Closed() {
				continue
			}
		}
		all = append(all, *b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].BorrowID < all[j].BorrowID })
	total := int64(len(all))
	if p.Offset >= len(all) {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[p.Offset:end], total, nil
}

func (m *memLedger) ExecCreateBorrow(_ context.Context, b *Borrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := b.BookRef()
	if !ok {
		return ErrValidation("book identifier is required")
	}
	bk := m.find(ref)
	if bk == nil {
		return ErrNotFound("book not found")
	}
	if bk.Quantity <= 0 {
		return ErrConflict("no copies available")
	}
	bk.Quantity--
	b.ISBN.String, b.ISBN.Valid = bk.ISBN, bk.ISBN != ""
	b.AccessionNumber.String, b.AccessionNumber.Valid = bk.Accession, bk.Accession != ""
	b.Title = bk.Title
	cp := *b
	m.borrows[b.BorrowID] = &cp
	return nil
}

func (m *memLedger) ExecCloseBorrow(_ context.Context, b *Borrow, ret *ReturnRecord) (bool, error) {
	if m.beforeClose != nil {
		m.beforeClose()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.borrows[b.BorrowID]
	if !ok || row.Closed() {
		return false, ErrAlreadyClosed()
	}
	row.ReturnedAt.Time, row.ReturnedAt.Valid = ret.ReturnedAt, true
	row.Penalty.Int64, row.Penalty.Valid = ret.Penalty, true

	restocked := false
	if ref, ok := b.BookRef(); ok {
		if bk := m.find(ref); bk != nil {
			bk.Quantity++
			restocked = true
		}
	}
	m.insertReturn(ret)
	return restocked, nil
}

func (m *memLedger) insertReturn(ret *ReturnRecord) {
	m.nextID++
	ret.ReturnID = m.nextID
	cp := *ret
	m.returns = append(m.returns, &cp)
}

func (m *memLedger) DeleteBorrow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.borrows[id]; !ok {
		return ErrNotFound("borrow not found")
	}
	delete(m.borrows, id)
	return nil
}

func (m *memLedger) GetReturn(_ context.Context, key ReturnKey) (*ReturnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.returns {
		if (key.ULID != "" && r.ReturnULID == key.ULID) || (key.ULID == "" && r.ReturnID == key.ID) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound("return record not found")
}

func (m *memLedger) ListReturns(_ context.Context, f ReturnFilter, p Page) ([]ReturnRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReturnRecord
	for _, r := range m.returns {
		if f.StudentNo != "" && r.StudentNo != f.StudentNo {
			continue
		}
		if f.BorrowID != "" && r.BorrowID != f.BorrowID {
			continue
		}
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

func (m *memLedger) ExecDeleteReturn(_ context.Context, ret *ReturnRecord, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.returns {
		if r.ReturnID == ret.ReturnID {
			m.returns = append(m.returns[:i], m.returns[i+1:]...)
			m.tombstones[ret.BorrowID] = ret.ReturnULID
			return nil
		}
	}
	return ErrNotFound("return record not found")
}

func (m *memLedger) hasReturn(borrowID string) bool {
	for _, r := range m.returns {
		if r.BorrowID == borrowID {
			return true
		}
	}
	return false
}

func (m *memLedger) ListUnreconciled(_ context.Context, limit int) ([]Borrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Borrow
	for _, b := range m.borrows {
		if !b.Closed() || m.hasReturn(b.BorrowID) {
			continue
		}
		if _, dead := m.tombstones[b.BorrowID]; dead {
			continue
		}
		out = append(out, *b)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memLedger) BackfillReturn(_ context.Context, ret *ReturnRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasReturn(ret.BorrowID) {
		return false, nil
	}
	if _, dead := m.tombstones[ret.BorrowID]; dead {
		return false, nil
	}
	m.insertReturn(ret)
	return true, nil
}

func (m *memLedger) returnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.returns)
}
