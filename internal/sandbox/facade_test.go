package sandbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/audit"
	"github.com/xela07ax/freedom-sandbox/internal/domain"
	"github.com/xela07ax/freedom-sandbox/internal/infra"
	"github.com/xela07ax/freedom-sandbox/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "facade-test-secret"
	testScope  = "agent:test"
)

// countingProvider считает реальные вызовы: им проверяется инвариант
// "до Approve провайдер не вызывается" и отсутствие эффектов у гейтов.
type countingProvider struct {
	calls    atomic.Int64
	simCalls atomic.Int64
	fail     bool
}

func (p *countingProvider) Call(ctx context.Context, params map[string]any, simulate bool) (provider.Result, error) {
	if simulate {
		p.simCalls.Add(1)
		return provider.Result{"status": "simulated_success"}, nil
	}
	p.calls.Add(1)
	if p.fail {
		return nil, assert.AnError
	}
	return provider.Result{"status": "success"}, nil
}

type facadeEnv struct {
	f        *Facade
	provider *countingProvider
}

func testConfig() infra.SandboxConfig {
	return infra.SandboxConfig{
		Secret:                    testSecret,
		AgentID:                   "agent@test",
		Scope:                     testScope,
		AllowLive:                 true,
		ApprovalTTL:               time.Minute,
		AuditRejections:           true,
		TransferApprovalThreshold: 100,
	}
}

func newTestFacade(t *testing.T, cfg infra.SandboxConfig, cap domain.Capability) *facadeEnv {
	t.Helper()

	cp := &countingProvider{}
	providers := provider.NewRegistry()
	for _, k := range cap.Allowed {
		providers.Register(k, cp)
	}

	f := New(cfg, providers, nil, nil, zap.NewNop())
	cap.Signature = domain.SignCapability(cap.ID, []byte(cfg.Secret))
	require.NoError(t, f.SetCapability(cap))

	return &facadeEnv{f: f, provider: cp}
}

func defaultCap() domain.Capability {
	return domain.Capability{
		ID:            "cap-test",
		Scope:         testScope,
		Allowed:       []domain.ActionKind{domain.KindLog, domain.KindNetworkFetch, domain.KindTransfer},
		Budget:        1000,
		RatePerMinute: 100,
	}
}

// lastEntry — последняя запись журнала.
func lastEntry(t *testing.T, f *Facade) audit.Entry {
	t.Helper()
	var last audit.Entry
	n := 0
	for e := range f.Audit() {
		last = e
		n++
	}
	require.Greater(t, n, 0, "audit chain is empty")
	return last
}

func TestAct_SuccessCommits(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())

	res, err := env.f.Act(context.Background(), domain.KindLog, map[string]any{"message": "hi"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, 1.0, res.Cost) // Базовая стоимость LOG
	assert.NotEmpty(t, res.TraceID)
	assert.Equal(t, int64(1), env.provider.calls.Load())

	assert.Equal(t, 1.0, env.f.BudgetUsage(testScope))

	e := lastEntry(t, env.f)
	assert.Equal(t, audit.OutcomeSuccess, e.Outcome)
	assert.Equal(t, 1.0, e.Cost)
	assert.True(t, env.f.VerifyAudit())
}

func TestAct_DryRunLeavesNoCharge(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())

	res, err := env.f.Act(context.Background(), domain.KindLog, nil, Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, StatusSimulated, res.Status)
	assert.Equal(t, 0.0, res.Cost)
	// Провайдер вызван ровно один раз, в simulate-режиме
	assert.Equal(t, int64(0), env.provider.calls.Load())
	assert.Equal(t, int64(1), env.provider.simCalls.Load())

	// Ни committed, ни подвисших резервов
	assert.Equal(t, 0.0, env.f.BudgetUsage(testScope))
	st := env.f.Status()
	assert.Equal(t, 0.0, st.BudgetHeld)

	assert.Equal(t, audit.OutcomeSimulated, lastEntry(t, env.f).Outcome)
}

func TestAct_AllowLiveFalseForcesSimulate(t *testing.T) {
	cfg := testConfig()
	cfg.AllowLive = false // Непродовая среда: стоп-кран
	env := newTestFacade(t, cfg, defaultCap())

	res, err := env.f.Act(context.Background(), domain.KindLog, nil, Options{})
	require.NoError(t, err)

	// Вызывающий не просил dry run — но живого исполнения все равно нет
	assert.Equal(t, StatusSimulated, res.Status)
	assert.Equal(t, int64(0), env.provider.calls.Load())
	assert.Equal(t, 0.0, env.f.BudgetUsage(testScope))
}

func TestAct_NoCapability(t *testing.T) {
	f := New(testConfig(), provider.NewRegistry(), nil, nil, zap.NewNop())

	_, err := f.Act(context.Background(), domain.KindLog, nil, Options{})
	assert.ErrorIs(t, err, domain.ErrNoCapability)
}

func TestAct_PolicyViolation(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())

	_, err := env.f.Act(context.Background(), domain.KindSpawnProcess, nil, Options{})
	require.Error(t, err)

	var pErr *domain.PolicyViolationError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, domain.KindSpawnProcess, pErr.Kind)
	assert.Equal(t, "cap-test", pErr.CapabilityID)

	// Отказ политики абсолютно бесплатен: ни вызова, ни резерва, ни гранта
	assert.Equal(t, int64(0), env.provider.calls.Load())
	assert.Equal(t, 0.0, env.f.BudgetUsage(testScope))
	assert.Equal(t, 0, env.f.Status().RateInWindow)

	// Но след в журнале остается (audit_rejections=true)
	assert.Equal(t, audit.OutcomeRejected, lastEntry(t, env.f).Outcome)
}

func TestAct_RejectionAuditToggle(t *testing.T) {
	cfg := testConfig()
	cfg.AuditRejections = false
	env := newTestFacade(t, cfg, defaultCap())

	_, err := env.f.Act(context.Background(), domain.KindSpawnProcess, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, 0, env.f.Status().AuditEntries)
}

func TestAct_RateLimited(t *testing.T) {
	cap := defaultCap()
	cap.RatePerMinute = 2
	env := newTestFacade(t, testConfig(), cap)
	ctx := context.Background()

	_, err := env.f.Act(ctx, domain.KindLog, nil, Options{})
	require.NoError(t, err)
	_, err = env.f.Act(ctx, domain.KindLog, nil, Options{})
	require.NoError(t, err)

	_, err = env.f.Act(ctx, domain.KindLog, nil, Options{})
	var rErr *domain.RateLimitedError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, testScope, rErr.Scope)
	assert.Greater(t, rErr.RetryAfter, time.Duration(0))

	// Отбитый вызов не удержал бюджет
	assert.Equal(t, 2.0, env.f.BudgetUsage(testScope))
	assert.Equal(t, 0.0, env.f.Status().BudgetHeld)
}

func TestAct_BudgetExceeded(t *testing.T) {
	cap := defaultCap()
	cap.Budget = 2.5
	env := newTestFacade(t, testConfig(), cap)
	ctx := context.Background()

	_, err := env.f.Act(ctx, domain.KindLog, nil, Options{}) // 1 ALB
	require.NoError(t, err)
	_, err = env.f.Act(ctx, domain.KindLog, nil, Options{}) // 2 ALB
	require.NoError(t, err)

	_, err = env.f.Act(ctx, domain.KindLog, nil, Options{})
	var bErr *domain.BudgetExceededError
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, 1.0, bErr.Requested)
	assert.Equal(t, 0.5, bErr.Remaining)

	// Отказ бюджета не вызвал провайдера
	assert.Equal(t, int64(2), env.provider.calls.Load())
}

func TestAct_BudgetRejectionReleasesRateGrant(t *testing.T) {
	cap := defaultCap()
	cap.Budget = 1
	cap.RatePerMinute = 5
	env := newTestFacade(t, testConfig(), cap)
	ctx := context.Background()

	_, err := env.f.Act(ctx, domain.KindLog, nil, Options{})
	require.NoError(t, err)

	// Бюджет исчерпан: отбитые вызовы не оставляют след в rate-окне
	var bErr *domain.BudgetExceededError
	for i := 0; i < 4; i++ {
		_, err = env.f.Act(ctx, domain.KindLog, nil, Options{})
		require.ErrorAs(t, err, &bErr, "call #%d", i+2)
	}
	assert.Equal(t, 1, env.f.Status().RateInWindow)

	// Окно не забито отказами бюджета: шестой вызов тоже отвечает
	// BudgetExceeded, а не rate limited
	_, err = env.f.Act(ctx, domain.KindLog, nil, Options{})
	assert.ErrorAs(t, err, &bErr)
}

func TestAct_ProviderFailureRollsBack(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	env.provider.fail = true

	_, err := env.f.Act(context.Background(), domain.KindLog, nil, Options{})
	require.Error(t, err)

	var pErr *domain.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, domain.KindLog, pErr.Kind)

	// Резерв откачен до выхода ошибки наружу
	assert.Equal(t, 0.0, env.f.BudgetUsage(testScope))
	assert.Equal(t, 0.0, env.f.Status().BudgetHeld)

	e := lastEntry(t, env.f)
	assert.Equal(t, audit.OutcomeFailed, e.Outcome)
	assert.Equal(t, 0.0, e.Cost)
}

func TestAct_MissingProvider(t *testing.T) {
	// Политика разрешает NETWORK_FETCH, но провайдер не зарегистрирован
	cfg := testConfig()
	cp := &countingProvider{}
	providers := provider.NewRegistry()
	providers.Register(domain.KindLog, cp)

	f := New(cfg, providers, nil, nil, zap.NewNop())
	cap := defaultCap()
	cap.Signature = domain.SignCapability(cap.ID, []byte(cfg.Secret))
	require.NoError(t, f.SetCapability(cap))

	_, err := f.Act(context.Background(), domain.KindNetworkFetch, nil, Options{})
	var mErr *domain.MissingProviderError
	require.ErrorAs(t, err, &mErr)

	// Бюджет не пострадал, в журнале FAILED
	assert.Equal(t, 0.0, f.BudgetUsage(testScope))
	assert.Equal(t, audit.OutcomeFailed, lastEntry(t, f).Outcome)
}

func TestHumanGate_ApproveResumes(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, map[string]any{"message": "hi"}, Options{HumanGate: true})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, domain.TicketPending, res.Ticket.Status)

	// До решения оператора: провайдер не тронут, резерв удержан
	assert.Equal(t, int64(0), env.provider.calls.Load())
	assert.Equal(t, 0.0, env.f.BudgetUsage(testScope))
	assert.Equal(t, 1.0, env.f.Status().BudgetHeld)
	assert.Len(t, env.f.PendingApprovals(), 1)

	final, err := env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, final.Status)
	assert.Equal(t, int64(1), env.provider.calls.Load())
	assert.Equal(t, 1.0, env.f.BudgetUsage(testScope))
	assert.Empty(t, env.f.PendingApprovals())
	assert.Equal(t, audit.OutcomeSuccess, lastEntry(t, env.f).Outcome)
}

func TestHumanGate_ApproveKeepsOriginalTrace(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true, TraceID: "trace-origin"})
	require.NoError(t, err)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, "trace-origin", res.Ticket.TraceID)

	final, err := env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	require.NoError(t, err)

	// Act -> PENDING -> Approve: один trace по всей цепочке, включая журнал
	assert.Equal(t, "trace-origin", final.TraceID)
	assert.Equal(t, "trace-origin", lastEntry(t, env.f).TraceID)
}

func TestHumanGate_DoubleDecision(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)

	_, err = env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	require.NoError(t, err)

	// Второе решение по тому же тикету отбивается, повторного исполнения нет
	_, err = env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	err = env.f.Deny(ctx, res.Ticket.ID, "operator@test", "")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	assert.Equal(t, int64(1), env.provider.calls.Load())
	assert.Equal(t, 1.0, env.f.BudgetUsage(testScope))
}

func TestHumanGate_DenyReleasesReservation(t *testing.T) {
	cap := defaultCap()
	cap.Budget = 1 // Бюджета хватает ровно на один LOG
	env := newTestFacade(t, testConfig(), cap)
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)

	require.NoError(t, env.f.Deny(ctx, res.Ticket.ID, "operator@test", "not today"))

	// Провайдер не вызывался, резерв освобожден, журнал зафиксировал DENIED
	assert.Equal(t, int64(0), env.provider.calls.Load())
	assert.Equal(t, 0.0, env.f.Status().BudgetHeld)
	assert.Equal(t, audit.OutcomeDenied, lastEntry(t, env.f).Outcome)

	// Удержание снято — бюджет снова доступен
	_, err = env.f.Act(ctx, domain.KindLog, nil, Options{})
	assert.NoError(t, err)
}

func TestHumanGate_ExpiredTicketNeverExecutes(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)

	// Двигаем часы хранилища тикетов за горизонт TTL
	env.f.tickets.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	assert.ErrorIs(t, err, domain.ErrHumanGateExpired)

	// Просрочка добита лениво: резерв снят, исполнение не состоялось
	assert.Equal(t, int64(0), env.provider.calls.Load())
	assert.Equal(t, 0.0, env.f.Status().BudgetHeld)
	assert.Equal(t, audit.OutcomeExpired, lastEntry(t, env.f).Outcome)

	ticket, err := env.f.tickets.Get(res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketExpired, ticket.Status)
}

func TestHumanGate_JanitorSweep(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)

	env.f.tickets.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	janitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	env.f.StartJanitor(janitorCtx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		ticket, err := env.f.tickets.Get(res.Ticket.ID)
		return err == nil && ticket.Status == domain.TicketExpired
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0.0, env.f.Status().BudgetHeld)
	assert.Equal(t, audit.OutcomeExpired, lastEntry(t, env.f).Outcome)
}

func TestHumanGate_DryRunTicketSimulatesOnApprove(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	// Режим фиксируется на момент Act: dry run + human gate
	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{DryRun: true, HumanGate: true})
	require.NoError(t, err)
	require.NotNil(t, res.Ticket)
	assert.True(t, res.Ticket.Simulate)

	final, err := env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	require.NoError(t, err)

	assert.Equal(t, StatusSimulated, final.Status)
	assert.Equal(t, int64(0), env.provider.calls.Load())
	assert.Equal(t, 0.0, env.f.BudgetUsage(testScope))
}

func TestAwaitDecision(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)

	// Решение приходит, пока агент висит на ожидании
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	}()

	final, err := env.f.AwaitDecision(ctx, res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, final.Status)
	assert.Equal(t, 1.0, final.Cost)
}

func TestAwaitDecision_ApprovedButProviderFails(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)

	env.provider.fail = true
	_, approveErr := env.f.Approve(ctx, res.Ticket.ID, "operator@test")
	require.Error(t, approveErr)

	// Ожидающий получает реальный исход finalize, а не COMMITTED по статусу:
	// APPROVED — решение оператора, исполнение могло и упасть
	_, err = env.f.AwaitDecision(ctx, res.Ticket.ID)
	var pErr *domain.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, 0.0, env.f.BudgetUsage(testScope))
}

func TestAwaitDecision_Denied(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)
	require.NoError(t, env.f.Deny(ctx, res.Ticket.ID, "operator@test", ""))

	_, err = env.f.AwaitDecision(ctx, res.Ticket.ID)
	assert.ErrorIs(t, err, domain.ErrHumanGateDenied)
}

func TestAwaitDecision_ContextCancel(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())

	res, err := env.f.Act(context.Background(), domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = env.f.AwaitDecision(waitCtx, res.Ticket.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Отмена ожидания не трогает сам тикет
	ticket, err := env.f.tickets.Get(res.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPending, ticket.Status)
}

func TestAct_TransferAboveThresholdForcesApproval(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())

	// Порог 100 ALB: перевод на 150 уходит на HITL без просьбы вызывающего
	res, err := env.f.Act(context.Background(), domain.KindTransfer,
		map[string]any{"amount_alb": 150.0, "to": "wallet-x"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, res.Status)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, 150.0, res.Ticket.Cost) // Перевод стоит саму сумму
	assert.Equal(t, int64(0), env.provider.calls.Load())
}

func TestAct_TransferBelowThresholdRunsDirect(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())

	res, err := env.f.Act(context.Background(), domain.KindTransfer,
		map[string]any{"amount_alb": 50.0, "to": "wallet-x"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, 50.0, res.Cost)
	assert.Equal(t, 50.0, env.f.BudgetUsage(testScope))
}

func TestAct_CostOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Costs = map[string]float64{"LOG": 5}
	cap := defaultCap()
	cap.Budget = 2000
	env := newTestFacade(t, cfg, cap)

	res, err := env.f.Act(context.Background(), domain.KindLog, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, 5.0, res.Cost)
	assert.Equal(t, 5.0, env.f.BudgetUsage(testScope))
}

// Инвариант бухгалтерии: BudgetUsage всегда равен сумме Cost по записям
// SUCCESS — какие бы исходы ни перемежались между собой.
func TestInvariant_UsageEqualsSuccessCosts(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	ctx := context.Background()

	_, _ = env.f.Act(ctx, domain.KindLog, nil, Options{})             // SUCCESS 1
	_, _ = env.f.Act(ctx, domain.KindNetworkFetch, nil, Options{})    // SUCCESS 2
	_, _ = env.f.Act(ctx, domain.KindLog, nil, Options{DryRun: true}) // SIMULATED
	_, _ = env.f.Act(ctx, domain.KindSpawnProcess, nil, Options{})    // REJECTED (policy)
	env.provider.fail = true
	_, _ = env.f.Act(ctx, domain.KindLog, nil, Options{}) // FAILED
	env.provider.fail = false
	res, err := env.f.Act(ctx, domain.KindLog, nil, Options{HumanGate: true})
	require.NoError(t, err)
	require.NoError(t, env.f.Deny(ctx, res.Ticket.ID, "op", "")) // DENIED

	var successTotal float64
	for e := range env.f.Audit() {
		if e.Outcome == audit.OutcomeSuccess {
			successTotal += e.Cost
		}
	}
	assert.Equal(t, successTotal, env.f.BudgetUsage(testScope))
	assert.Equal(t, 3.0, successTotal)

	// Журнал при этом цел
	assert.True(t, env.f.VerifyAudit())
	assert.NoError(t, env.f.AuditIntegrity())
}

func TestAct_ConcurrentScopeSafety(t *testing.T) {
	cap := defaultCap()
	cap.Budget = 50 // Хватит ровно на 50 LOG по 1 ALB
	env := newTestFacade(t, testConfig(), cap)

	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = env.f.Act(context.Background(), domain.KindLog, nil, Options{})
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	// Гонка не пробивает потолок: закоммичено не больше бюджета
	assert.LessOrEqual(t, env.f.BudgetUsage(testScope), 50.0)
	assert.Equal(t, 0.0, env.f.Status().BudgetHeld)
	assert.True(t, env.f.VerifyAudit())
}

func TestStatus_Snapshot(t *testing.T) {
	env := newTestFacade(t, testConfig(), defaultCap())
	_, err := env.f.Act(context.Background(), domain.KindLog, nil, Options{})
	require.NoError(t, err)

	st := env.f.Status()
	assert.Equal(t, "agent@test", st.AgentID)
	assert.Equal(t, testScope, st.Scope)
	assert.Equal(t, "cap-test", st.CapabilityID)
	assert.Equal(t, 1.0, st.BudgetUsage)
	assert.Equal(t, 1, st.RateInWindow)
	assert.Equal(t, 1, st.AuditEntries)
	assert.True(t, st.AuditValid)
}
