package circulation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/libman/internal/clock"
	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
)

// --- モック ---

type fakeMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	marked     int
	paid       int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{operations: map[string]int{}}
}

func (m *fakeMetrics) RecordOperation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op+"/"+outcome]++
}

func (m *fakeMetrics) RecordOverdueMarked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked++
}

func (m *fakeMetrics) RecordFinePaid() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid++
}

func (m *fakeMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operations[key]
}

type mockUoW struct {
	doFn    func(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error
	reposFn func() repository.Repos
}

func (m *mockUoW) Repos() repository.Repos { return m.reposFn() }
func (m *mockUoW) Do(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	return m.doFn(ctx, fn)
}

// --- テスト環境 ---

type testEnv struct {
	svc     *Service
	store   *repository.BoltStore
	clock   *clock.Manual
	metrics *fakeMetrics
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := repository.OpenBoltStore(filepath.Join(t.TempDir(), "circulation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	clk := clock.NewManual(day0)
	metrics := newFakeMetrics()

	svc, err := NewService(store, clk, logger, metrics, ServiceConfig{Policy: DefaultPolicy(), LoanPageSize: 13, FinePageSize: 10})
	require.NoError(t, err)

	return &testEnv{svc: svc, store: store, clock: clk, metrics: metrics, logs: &logs}
}

func (e *testEnv) member(t *testing.T, name string) *model.Member {
	t.Helper()
	m := &model.Member{Name: name, Email: name + "@example.com", CreatedAt: e.clock.Now()}
	require.NoError(t, e.store.Repos().Members.Create(context.Background(), m))
	return m
}

func (e *testEnv) book(t *testing.T, title string) *model.Book {
	t.Helper()
	b := &model.Book{Title: title, AvailabilityStatus: model.AvailabilityAvailable, CreatedAt: e.clock.Now(), UpdatedAt: e.clock.Now()}
	require.NoError(t, e.store.Repos().Books.Create(context.Background(), b))
	return b
}

func (e *testEnv) sweep(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	candidates, err := e.svc.OverdueCandidates(ctx, nil, 100)
	require.NoError(t, err)
	marked := 0
	for _, c := range candidates {
		ok, err := e.svc.MarkOverdue(ctx, c.LoanID, "test-run")
		require.NoError(t, err)
		if ok {
			marked++
		}
	}
	return marked
}

func (e *testEnv) bookStatus(t *testing.T, id int64) model.AvailabilityStatus {
	t.Helper()
	b, err := e.store.Repos().Books.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b.AvailabilityStatus
}

// --- テスト ---

func TestService_FullOverdueScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")
	dune := env.book(t, "Dune")
	emma := env.book(t, "Emma")

	// day 0: 貸出
	loan, err := env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: reader.ID})
	require.NoError(t, err)
	assert.Equal(t, day(30), loan.DueAt)
	assert.Equal(t, model.AvailabilityCheckedOut, env.bookStatus(t, dune.ID))

	// day 31: 延滞判定で罰金が1件発生
	env.clock.Set(day(31))
	assert.Equal(t, 1, env.sweep(t))

	fines, err := env.svc.ListFines(ctx, FineQuery{LoanID: &loan.ID, Page: 1})
	require.NoError(t, err)
	require.Equal(t, 1, fines.Total)
	fine := fines.Data[0]
	assert.False(t, fine.Paid)

	// day 32: 資格停止中のため貸出は拒否される
	env.clock.Set(day(32))
	_, err = env.svc.Borrow(ctx, BorrowCommand{BookID: emma.ID, MemberID: reader.ID})
	assert.Equal(t, model.KindBlocked, model.KindOf(err))
	assert.Equal(t, model.AvailabilityAvailable, env.bookStatus(t, emma.ID))

	eligibility, err := env.svc.CheckEligible(ctx, reader.ID)
	require.NoError(t, err)
	assert.True(t, eligibility.Blocked)
	assert.Equal(t, 1, eligibility.UnpaidOverdueFines)

	// 罰金を支払うと返却期限がday 62になり延滞が解除される
	paid, err := env.svc.PayFine(ctx, PayFineCommand{FineID: fine.ID})
	require.NoError(t, err)
	assert.True(t, paid.Paid)

	got, err := env.svc.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, day(62), got.DueAt)
	assert.False(t, got.Overdue)
	assert.True(t, got.IsOpen())

	// 資格が回復し貸出できる
	_, err = env.svc.Borrow(ctx, BorrowCommand{BookID: emma.ID, MemberID: reader.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, env.metrics.paid)
}

func TestService_Renew_ExtendsFromCurrentDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")
	dune := env.book(t, "Dune")

	loan, err := env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: reader.ID})
	require.NoError(t, err)

	env.clock.Set(day(25))
	renewed, err := env.svc.Renew(ctx, RenewCommand{LoanID: loan.ID})
	require.NoError(t, err)
	assert.Equal(t, day(60), renewed.DueAt)
	assert.Equal(t, 1, env.metrics.count(OpRenew+"/success"))
}

func TestService_Borrow_CheckedOutBookConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.member(t, "alice")
	bob := env.member(t, "bob")
	dune := env.book(t, "Dune")

	_, err := env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: alice.ID})
	require.NoError(t, err)

	_, err = env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: bob.ID})
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	history, err := env.svc.ListLoanHistory(ctx, LoanQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, history.Total, "no loan may be created for a checked-out book")
}

func TestService_Borrow_PreconditionOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")

	_, err := env.svc.Borrow(ctx, BorrowCommand{BookID: 99, MemberID: 42})
	assert.Equal(t, model.ErrCodeMemberNotFound, apiCode(err), "member existence is checked first")

	_, err = env.svc.Borrow(ctx, BorrowCommand{BookID: 99, MemberID: reader.ID})
	assert.Equal(t, model.ErrCodeBookNotFound, apiCode(err))

	_, err = env.svc.Borrow(ctx, BorrowCommand{BookID: 0, MemberID: reader.ID})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestService_ConcurrentBorrow_ExactlyOneSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dune := env.book(t, "Dune")

	const n = 8
	members := make([]*model.Member, n)
	for i := range members {
		members[i] = env.member(t, fmt.Sprintf("m%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: members[i].ID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, model.KindConflict, model.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	open, err := env.svc.ListOpenLoans(ctx, LoanQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, open.Total)
}

func TestService_BlockedMember_NoMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")
	dune := env.book(t, "Dune")
	emma := env.book(t, "Emma")

	overdueLoan, err := env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: reader.ID})
	require.NoError(t, err)

	env.clock.Set(day(20))
	otherLoan, err := env.svc.Borrow(ctx, BorrowCommand{BookID: emma.ID, MemberID: reader.ID})
	require.NoError(t, err)

	env.clock.Set(day(31))
	require.Equal(t, 1, env.sweep(t))

	_, err = env.svc.Renew(ctx, RenewCommand{LoanID: otherLoan.ID})
	assert.Equal(t, model.KindBlocked, model.KindOf(err))

	_, err = env.svc.Return(ctx, ReturnCommand{LoanID: otherLoan.ID})
	assert.Equal(t, model.KindBlocked, model.KindOf(err))

	_, err = env.svc.Return(ctx, ReturnCommand{LoanID: overdueLoan.ID})
	assert.Equal(t, model.KindBlocked, model.KindOf(err))

	got, err := env.svc.GetLoan(ctx, otherLoan.ID)
	require.NoError(t, err)
	assert.Equal(t, day(50), got.DueAt)
	assert.True(t, got.IsOpen())
	assert.Equal(t, model.AvailabilityCheckedOut, env.bookStatus(t, emma.ID))
	assert.Equal(t, 3, env.metrics.count(OpRenew+"/blocked")+env.metrics.count(OpReturn+"/blocked"))
}

func TestService_SweepTwice_CreatesNoExtraFines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")
	other := env.member(t, "other")
	dune := env.book(t, "Dune")
	emma := env.book(t, "Emma")

	_, err := env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: reader.ID})
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, BorrowCommand{BookID: emma.ID, MemberID: other.ID})
	require.NoError(t, err)

	env.clock.Set(day(31))
	assert.Equal(t, 2, env.sweep(t))
	assert.Equal(t, 0, env.sweep(t))

	fines, err := env.svc.ListFines(ctx, FineQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, fines.Total)
	assert.Equal(t, 2, env.metrics.marked)
}

func TestService_MarkOverdue_SkipsLoanNotYetDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")
	dune := env.book(t, "Dune")

	loan, err := env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: reader.ID})
	require.NoError(t, err)

	env.clock.Set(day(10))
	marked, err := env.svc.MarkOverdue(ctx, loan.ID, "run")
	require.NoError(t, err)
	assert.False(t, marked)

	_, err = env.svc.MarkOverdue(ctx, 999, "run")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestService_ReturnOverdueLoanAfterPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")
	dune := env.book(t, "Dune")

	loan, err := env.svc.Borrow(ctx, BorrowCommand{BookID: dune.ID, MemberID: reader.ID})
	require.NoError(t, err)

	env.clock.Set(day(31))
	env.sweep(t)
	fines, err := env.svc.ListFinesByLoan(ctx, loan.ID, 1)
	require.NoError(t, err)
	require.Len(t, fines.Data, 1)

	_, err = env.svc.PayFine(ctx, PayFineCommand{FineID: fines.Data[0].ID})
	require.NoError(t, err)

	returned, err := env.svc.Return(ctx, ReturnCommand{LoanID: loan.ID})
	require.NoError(t, err)
	assert.False(t, returned.IsOpen())
	assert.Equal(t, model.AvailabilityAvailable, env.bookStatus(t, dune.ID))

	_, err = env.svc.Return(ctx, ReturnCommand{LoanID: loan.ID})
	assert.Equal(t, model.ErrCodeLoanClosed, apiCode(err))

	_, err = env.svc.PayFine(ctx, PayFineCommand{FineID: fines.Data[0].ID})
	assert.Equal(t, model.ErrCodeFineAlreadyPaid, apiCode(err))
}

func TestService_NotFoundErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Return(ctx, ReturnCommand{LoanID: 7})
	assert.Equal(t, model.ErrCodeLoanNotFound, apiCode(err))

	_, err = env.svc.Renew(ctx, RenewCommand{LoanID: 7})
	assert.Equal(t, model.ErrCodeLoanNotFound, apiCode(err))

	_, err = env.svc.PayFine(ctx, PayFineCommand{FineID: 7})
	assert.Equal(t, model.ErrCodeFineNotFound, apiCode(err))

	_, err = env.svc.GetFine(ctx, 7)
	assert.Equal(t, model.ErrCodeFineNotFound, apiCode(err))

	_, err = env.svc.CheckEligible(ctx, 7)
	assert.Equal(t, model.ErrCodeMemberNotFound, apiCode(err))

	_, err = env.svc.ListFinesByLoan(ctx, 7, 1)
	assert.Equal(t, model.ErrCodeLoanNotFound, apiCode(err))
}

func TestService_ListPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")

	var last *model.Loan
	for i := 0; i < 15; i++ {
		b := env.book(t, fmt.Sprintf("book-%d", i))
		loan, err := env.svc.Borrow(ctx, BorrowCommand{BookID: b.ID, MemberID: reader.ID})
		require.NoError(t, err)
		last = loan
	}
	_, err := env.svc.Return(ctx, ReturnCommand{LoanID: last.ID})
	require.NoError(t, err)

	page1, err := env.svc.ListLoanHistory(ctx, LoanQuery{MemberID: &reader.ID, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 15, page1.Total)
	assert.Len(t, page1.Data, 13)
	assert.Equal(t, last.ID, page1.Data[0].ID, "newest first")

	page2, err := env.svc.ListLoanHistory(ctx, LoanQuery{MemberID: &reader.ID, Page: 2})
	require.NoError(t, err)
	assert.Len(t, page2.Data, 2)

	open, err := env.svc.ListOpenLoans(ctx, LoanQuery{MemberID: &reader.ID, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 14, open.Total)

	_, err = env.svc.ListOpenLoans(ctx, LoanQuery{Page: 0})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestService_ListRejectsPageBeyondOffsetRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.member(t, "reader")
	b := env.book(t, "Dune")
	_, err := env.svc.Borrow(ctx, BorrowCommand{BookID: b.ID, MemberID: reader.ID})
	require.NoError(t, err)

	// 13件/ページでスキップ件数がintを超えるページ
	_, err = env.svc.ListLoanHistory(ctx, LoanQuery{Page: math.MaxInt/13 + 2})
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = env.svc.ListFines(ctx, FineQuery{Page: math.MaxInt})
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	last, err := env.svc.ListLoanHistory(ctx, LoanQuery{Page: math.MaxInt/13 + 1})
	require.NoError(t, err)
	assert.Equal(t, 1, last.Total)
	assert.Empty(t, last.Data, "a page past the end must not fall back to the first page")
}

func TestService_StoreErrorsAreTranslated(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ErrorKind
	}{
		{name: "version conflict", err: fmt.Errorf("loan 1: %w", repository.ErrVersionConflict), want: model.KindConflict},
		{name: "unique violation", err: repository.ErrUniqueViolation, want: model.KindConflict},
		{name: "io failure", err: errors.New("disk full"), want: model.KindStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uow := &mockUoW{
				doFn: func(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
					return tt.err
				},
			}
			metrics := newFakeMetrics()
			var logs bytes.Buffer
			svc, err := NewService(uow, clock.NewManual(day0), slog.New(slog.NewJSONHandler(&logs, nil)), metrics, ServiceConfig{Policy: DefaultPolicy()})
			require.NoError(t, err)

			_, err = svc.Renew(context.Background(), RenewCommand{LoanID: 1})

			assert.Equal(t, tt.want, model.KindOf(err))
			assert.True(t, errors.Is(err, tt.err), "original cause must stay in the chain")
			assert.Equal(t, 1, metrics.count(OpRenew+"/"+string(tt.want)))
			if tt.want == model.KindStore {
				assert.Contains(t, logs.String(), "disk full")
			}
		})
	}
}

func TestNewService_RejectsInvalidPolicy(t *testing.T) {
	_, err := NewService(&mockUoW{}, clock.System{}, nil, nil, ServiceConfig{Policy: Policy{}})
	assert.Error(t, err)
}

func apiCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
