package sandbox

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/audit"
	"github.com/xela07ax/freedom-sandbox/internal/budget"
	"github.com/xela07ax/freedom-sandbox/internal/capability"
	"github.com/xela07ax/freedom-sandbox/internal/domain"
	"github.com/xela07ax/freedom-sandbox/internal/infra"
	"github.com/xela07ax/freedom-sandbox/internal/provider"
	"github.com/xela07ax/freedom-sandbox/internal/ratelimit"
	"github.com/xela07ax/freedom-sandbox/internal/risk"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options — флаги одного вызова Act.
type Options struct {
	// DryRun — исполнить провайдера в simulate и не коммитить бюджет.
	DryRun bool
	// HumanGate — припарковать действие до решения оператора.
	HumanGate bool
	// TraceID — сквозной ID запроса от транспорта; пустой — сгенерируем.
	TraceID string
}

// Статусы результата Act.
const (
	StatusCommitted = "COMMITTED"
	StatusSimulated = "SIMULATED"
	StatusPending   = "PENDING"
)

// ActionResult — ответ фасада. Либо терминальный результат, либо
// PENDING с тикетом (humanGate) — тогда Response пуст, провайдер не вызывался.
type ActionResult struct {
	Status   string            `json:"status"`
	Kind     domain.ActionKind `json:"kind"`
	Response provider.Result   `json:"response,omitempty"`
	Cost     float64           `json:"cost"` // Закоммиченное списание (0 для simulate/pending)
	TraceID  string            `json:"trace_id"`
	Ticket   *domain.Ticket    `json:"ticket,omitempty"`
}

// Facade — ядро sandbox: единственный владелец секрета и порядка гейтов.
// Явное значение, собираемое на старте процесса и передаваемое в хендлеры
// по ссылке — никакого скрытого глобального синглтона.
type Facade struct {
	cfg    infra.SandboxConfig
	secret []byte

	caps      *capability.Registry
	ledger    *budget.Ledger
	limiter   *ratelimit.SlidingWindow
	chain     *audit.Chain
	providers *provider.Registry
	costs     *CostModel
	risk      *risk.Analyzer
	tickets   *TicketStore
	metrics   *Metrics
	logger    *zap.Logger

	// Один mutex-домен на scope: reserve-шаг конкурентов по одному scope
	// сериализуется, разные scope идут параллельно.
	scopeMu    sync.Mutex
	scopeLocks map[string]*sync.Mutex

	// Итоги исполнения апрувнутых тикетов: статус APPROVED означает лишь
	// решение оператора, исход finalize может быть и сбоем провайдера.
	decisionsMu sync.Mutex
	decisions   map[string]ticketOutcome

	now func() time.Time
}

// ticketOutcome — финал исполнения возобновленного тикета.
type ticketOutcome struct {
	result *ActionResult
	err    error
}

// New собирает фасад. providers и sink инжектируются хостом (DI):
// фасад не знает ни конкретных провайдеров, ни куда экспортируется аудит.
func New(cfg infra.SandboxConfig, providers *provider.Registry, sink audit.Sink, metrics *Metrics, logger *zap.Logger) *Facade {
	secret := []byte(cfg.Secret)
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Facade{
		cfg:        cfg,
		secret:     secret,
		caps:       capability.NewRegistry(secret, logger),
		ledger:     budget.NewLedger(),
		limiter:    ratelimit.NewSlidingWindow(),
		chain:      audit.NewChain(secret, sink),
		providers:  providers,
		costs:      NewCostModel(cfg.Costs),
		risk:       risk.NewAnalyzer(cfg.TransferApprovalThreshold, logger),
		tickets:    NewTicketStore(),
		metrics:    metrics,
		logger:     logger.Named("sandbox"),
		scopeLocks: make(map[string]*sync.Mutex),
		decisions:  make(map[string]ticketOutcome),
		now:        time.Now,
	}
}

// SetCapability устанавливает активную capability (подпись проверяется).
func (f *Facade) SetCapability(cap domain.Capability) error {
	return f.caps.Set(cap)
}

// Act — конвейер действия. Порядок гейтов фиксирован, каждый следующий
// строго дороже предыдущего: policy -> rate -> budget -> [HITL] -> execute.
func (f *Facade) Act(ctx context.Context, kind domain.ActionKind, params map[string]any, opts Options) (*ActionResult, error) {
	start := f.now()
	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}
	paramsHash := audit.HashParams(params)

	cap, err := f.caps.Current()
	if err != nil {
		f.metrics.GateRejections.WithLabelValues("no_capability").Inc()
		return nil, err
	}
	scope := cap.Scope
	if scope == "" {
		scope = f.cfg.Scope
	}
	f.metrics.ActionsTotal.WithLabelValues(string(kind), scope).Inc()

	// 1. Policy. Fail fast: ни резерва, ни провайдера.
	if !cap.Permits(kind) {
		f.metrics.GateRejections.WithLabelValues("policy").Inc()
		f.auditRejection(traceID, scope, kind, paramsHash)
		return nil, &domain.PolicyViolationError{Kind: kind, CapabilityID: cap.ID}
	}

	// Критическая секция scope: rate + reserve. Конкурент по тому же scope
	// не начнет свой reserve, пока наш не завершится.
	cost := f.costs.Cost(kind, params)
	reservation, gateErr := func() (budget.Reservation, error) {
		lock := f.lockScope(scope)
		lock.Lock()
		defer lock.Unlock()

		// 2. Rate (скользящее окно 60с)
		if err := f.limiter.TryAcquire(scope, cap.RatePerMinute); err != nil {
			f.metrics.GateRejections.WithLabelValues("rate_limit").Inc()
			return budget.Reservation{}, err
		}

		// 3. Budget reserve
		res, err := f.ledger.Reserve(scope, cost, cap.Budget)
		if err != nil {
			// Отказ бюджета возвращает только что взятый грант:
			// отбитый вызов не тратит ни бюджет, ни место в окне
			f.limiter.Release(scope)
			f.metrics.GateRejections.WithLabelValues("budget").Inc()
			return budget.Reservation{}, err
		}
		return res, nil
	}()
	if gateErr != nil {
		f.auditRejection(traceID, scope, kind, paramsHash)
		return nil, gateErr
	}

	simulate := opts.DryRun || !f.cfg.AllowLive

	// 4. Human gate: паркуем тикет и немедленно возвращаем PENDING.
	// Резерв остается удержанным до Approve/Deny/TTL.
	if opts.HumanGate || f.risk.IsRequired(kind, params) {
		t := f.tickets.Create(traceID, f.cfg.AgentID, scope, kind, params, paramsHash, reservation.ID, cost, simulate, f.cfg.ApprovalTTL)
		f.metrics.PendingTickets.Inc()
		f.logger.Info("action parked for human approval",
			zap.String("ticket_id", t.ID),
			zap.String("kind", string(kind)),
			zap.String("scope", scope),
			zap.Float64("cost", cost),
		)
		return &ActionResult{Status: StatusPending, Kind: kind, TraceID: traceID, Ticket: t}, nil
	}

	// 5-6. Исполнение и финализация — вне scope-лока (провайдеры реентерабельны)
	result, err := f.finalize(ctx, traceID, scope, kind, params, paramsHash, reservation.ID, cost, simulate)
	f.metrics.ActDuration.WithLabelValues(string(kind), resultOutcome(err, simulate)).Observe(f.now().Sub(start).Seconds())
	return result, err
}

// Approve возобновляет припаркованное действие. Просроченный тикет
// не исполняется никогда: вместо этого он добивается как EXPIRED.
func (f *Facade) Approve(ctx context.Context, ticketID, reviewer string) (*ActionResult, error) {
	t, err := f.tickets.Resolve(ticketID, domain.TicketApproved, reviewer, "")
	if err != nil {
		if errors.Is(err, domain.ErrHumanGateExpired) {
			f.expireTicket(ticketID)
		}
		return nil, err
	}
	f.metrics.PendingTickets.Dec()

	f.logger.Info("ticket approved",
		zap.String("ticket_id", t.ID),
		zap.String("reviewer", reviewer),
	)

	// Возобновление живет под trace id исходного запроса: цепочка
	// Act -> PENDING -> Approve склеивается в журнале и логах
	traceID := t.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	result, execErr := f.finalize(ctx, traceID, t.Scope, t.Kind, t.Params, t.ParamsHash, t.ReservationID, t.Cost, t.Simulate)

	f.decisionsMu.Lock()
	f.decisions[t.ID] = ticketOutcome{result: result, err: execErr}
	f.decisionsMu.Unlock()

	return result, execErr
}

// Deny отклоняет тикет: резерв освобождается, провайдер не вызывается.
// Отмена тикета эквивалентна Deny.
func (f *Facade) Deny(ctx context.Context, ticketID, reviewer, comment string) error {
	t, err := f.tickets.Resolve(ticketID, domain.TicketDenied, reviewer, comment)
	if err != nil {
		if errors.Is(err, domain.ErrHumanGateExpired) {
			f.expireTicket(ticketID)
		}
		return err
	}
	f.metrics.PendingTickets.Dec()

	f.ledger.Rollback(t.ReservationID)
	f.chain.Append(audit.Fields{
		TraceID:    t.TraceID,
		AgentID:    t.AgentID,
		Scope:      t.Scope,
		Kind:       t.Kind,
		ParamsHash: t.ParamsHash,
		Outcome:    audit.OutcomeDenied,
		Cost:       0,
	})
	f.logger.Info("ticket denied",
		zap.String("ticket_id", t.ID),
		zap.String("reviewer", reviewer),
	)
	return nil
}

// AwaitDecision блокирует до решения по тикету — мост для синхронных
// агентов поверх асинхронного гейта. APPROVED дает сводку исполнения
// (полный Response ушел вызвавшему Approve), DENIED/EXPIRED — ошибку
// таксономии.
func (f *Facade) AwaitDecision(ctx context.Context, ticketID string) (*ActionResult, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		t, err := f.tickets.Get(ticketID)
		if err != nil {
			return nil, err
		}

		switch t.Status {
		case domain.TicketApproved:
			// APPROVED — только решение оператора; исход исполнения
			// берем из записанного финала (finalize мог и упасть).
			// Статус меняется до finalize, так что итога может еще
			// не быть — тогда ждем следующий тик.
			f.decisionsMu.Lock()
			outcome, ok := f.decisions[t.ID]
			f.decisionsMu.Unlock()
			if ok {
				return outcome.result, outcome.err
			}
		case domain.TicketDenied:
			return nil, domain.ErrHumanGateDenied
		case domain.TicketExpired:
			return nil, domain.ErrHumanGateExpired
		}

		// Просрочку не пересиживаем в ожидании janitor'а
		if t.ExpiredAt(f.now()) {
			f.expireTicket(ticketID)
			return nil, domain.ErrHumanGateExpired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartJanitor добивает просроченные тикеты: EXPIRED + откат резерва + аудит.
func (f *Facade) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, t := range f.tickets.TakeExpired() {
					f.metrics.PendingTickets.Dec()
					f.ledger.Rollback(t.ReservationID)
					f.chain.Append(audit.Fields{
						TraceID:    t.TraceID,
						AgentID:    t.AgentID,
						Scope:      t.Scope,
						Kind:       t.Kind,
						ParamsHash: t.ParamsHash,
						Outcome:    audit.OutcomeExpired,
						Cost:       0,
					})
					f.logger.Warn("approval ticket expired",
						zap.String("ticket_id", t.ID),
						zap.String("kind", string(t.Kind)),
					)
				}
			}
		}
	}()
}

// Audit — ленивая, конечная, перезапускаемая последовательность записей.
func (f *Facade) Audit() iter.Seq[audit.Entry] { return f.chain.All() }

// VerifyAudit пересчитывает цепочку с нуля.
func (f *Facade) VerifyAudit() bool { return f.chain.Verify() }

// AuditIntegrity — вариант с точкой разрыва. Битая цепочка фатальна для
// доверия к журналу: ремонт не предпринимается, эскалация наружу.
func (f *Facade) AuditIntegrity() error {
	if idx, ok := f.chain.VerifyChain(); !ok {
		return &domain.AuditIntegrityError{Index: idx}
	}
	return nil
}

// BudgetUsage — сумма закоммиченных списаний по scope.
func (f *Facade) BudgetUsage(scope string) float64 { return f.ledger.Usage(scope) }

// PendingApprovals — очередь тикетов, ожидающих решения.
func (f *Facade) PendingApprovals() []domain.Ticket { return f.tickets.Pending() }

// Status — снапшот здоровья для хоста.
type Status struct {
	AgentID        string  `json:"agent_id"`
	Scope          string  `json:"scope"`
	AllowLive      bool    `json:"allow_live"`
	CapabilityID   string  `json:"capability_id,omitempty"`
	BudgetUsage    float64 `json:"budget_usage"`
	BudgetHeld     float64 `json:"budget_held"`
	RateInWindow   int     `json:"rate_in_window"`
	PendingTickets int     `json:"pending_tickets"`
	AuditEntries   int     `json:"audit_entries"`
	AuditValid     bool    `json:"audit_valid"`
}

func (f *Facade) Status() Status {
	s := Status{
		AgentID:      f.cfg.AgentID,
		Scope:        f.cfg.Scope,
		AllowLive:    f.cfg.AllowLive,
		AuditEntries: f.chain.Len(),
		AuditValid:   f.chain.Verify(),
	}
	if cap, err := f.caps.Current(); err == nil {
		s.CapabilityID = cap.ID
		s.Scope = cap.Scope
	}
	s.BudgetUsage = f.ledger.Usage(s.Scope)
	s.BudgetHeld = f.ledger.Outstanding(s.Scope)
	s.RateInWindow = f.limiter.InWindow(s.Scope)
	s.PendingTickets = len(f.tickets.Pending())
	return s
}

// finalize — общий хвост конвейера для Act и Approve: исполнить провайдера,
// закоммитить или откатить резерв, записать исход в цепочку.
func (f *Facade) finalize(ctx context.Context, traceID, scope string, kind domain.ActionKind, params map[string]any, paramsHash, reservationID string, cost float64, simulate bool) (*ActionResult, error) {
	resp, execErr := f.providers.Execute(ctx, kind, params, simulate)
	if execErr != nil {
		// Сбой исполнения: резерв всегда освобождается ДО наружной ошибки,
		// инвариант budgetUsage == сумме закоммиченных списаний сохранен
		f.ledger.Rollback(reservationID)
		f.chain.Append(audit.Fields{
			TraceID:    traceID,
			AgentID:    f.cfg.AgentID,
			Scope:      scope,
			Kind:       kind,
			ParamsHash: paramsHash,
			Outcome:    audit.OutcomeFailed,
			Cost:       0,
		})
		f.logger.Error("provider execution failed",
			zap.String("kind", string(kind)),
			zap.String("scope", scope),
			zap.Error(execErr),
		)
		if _, ok := execErr.(*domain.MissingProviderError); ok {
			return nil, execErr
		}
		return nil, &domain.ProviderError{Kind: kind, Err: execErr}
	}

	if simulate {
		// Dry run никогда не доходит до commit: удержание снимается,
		// списания нет независимо от исхода
		f.ledger.Rollback(reservationID)
		f.chain.Append(audit.Fields{
			TraceID:    traceID,
			AgentID:    f.cfg.AgentID,
			Scope:      scope,
			Kind:       kind,
			ParamsHash: paramsHash,
			Outcome:    audit.OutcomeSimulated,
			Cost:       0,
		})
		return &ActionResult{Status: StatusSimulated, Kind: kind, Response: resp, Cost: 0, TraceID: traceID}, nil
	}

	f.ledger.Commit(reservationID)
	f.chain.Append(audit.Fields{
		TraceID:    traceID,
		AgentID:    f.cfg.AgentID,
		Scope:      scope,
		Kind:       kind,
		ParamsHash: paramsHash,
		Outcome:    audit.OutcomeSuccess,
		Cost:       cost,
	})
	return &ActionResult{Status: StatusCommitted, Kind: kind, Response: resp, Cost: cost, TraceID: traceID}, nil
}

// auditRejection — опциональная zero-cost запись об отказе на гейте.
// Бюджет и rate-окно при этом не тронуты.
func (f *Facade) auditRejection(traceID, scope string, kind domain.ActionKind, paramsHash string) {
	if !f.cfg.AuditRejections {
		return
	}
	f.chain.Append(audit.Fields{
		TraceID:    traceID,
		AgentID:    f.cfg.AgentID,
		Scope:      scope,
		Kind:       kind,
		ParamsHash: paramsHash,
		Outcome:    audit.OutcomeRejected,
		Cost:       0,
	})
}

// expireTicket — ленивая досрочная уборка: Approve/Deny наткнулись на
// просроченный PENDING раньше janitor'а.
func (f *Facade) expireTicket(ticketID string) {
	t, err := f.tickets.Resolve(ticketID, domain.TicketExpired, "", "")
	if err != nil {
		return // Janitor успел первым
	}
	f.metrics.PendingTickets.Dec()
	f.ledger.Rollback(t.ReservationID)
	f.chain.Append(audit.Fields{
		TraceID:    t.TraceID,
		AgentID:    t.AgentID,
		Scope:      t.Scope,
		Kind:       t.Kind,
		ParamsHash: t.ParamsHash,
		Outcome:    audit.OutcomeExpired,
		Cost:       0,
	})
}

func (f *Facade) lockScope(scope string) *sync.Mutex {
	f.scopeMu.Lock()
	defer f.scopeMu.Unlock()
	lock, ok := f.scopeLocks[scope]
	if !ok {
		lock = &sync.Mutex{}
		f.scopeLocks[scope] = lock
	}
	return lock
}

func resultOutcome(err error, simulate bool) string {
	switch {
	case err != nil:
		return string(audit.OutcomeFailed)
	case simulate:
		return string(audit.OutcomeSimulated)
	default:
		return string(audit.OutcomeSuccess)
	}
}
