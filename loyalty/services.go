package loyalty

// Services wires the ledger components around one store.
type Services struct {
	Store       TxStore
	Catalog     *Catalog
	Visits      *VisitService
	Redemptions *RedemptionService
	Workflow    *Workflow
	Balances    *BalanceCalculator
}

// Option customises NewServices.
type Option func(*Services)

// WithClock replaces the wall clock in every component.
func WithClock(c Clock) Option {
	return func(s *Services) {
		s.Catalog.Clock = c
		s.Visits.Clock = c
		s.Redemptions.Clock = c
		s.Workflow.Clock = c
		s.Balances.Clock = c
	}
}

// WithPublisher sets where committed changes are announced.
func WithPublisher(p Publisher) Option {
	return func(s *Services) {
		s.Visits.Events = p
		s.Redemptions.Events = p
		s.Workflow.Events = p
	}
}

// WithAmountPolicy replaces DefaultAmountPolicy for visit creation.
func WithAmountPolicy(p AmountPolicy) Option {
	return func(s *Services) { s.Visits.Policy = p }
}

func NewServices(store TxStore, opts ...Option) *Services {
	balances := &BalanceCalculator{Store: store}
	s := &Services{
		Store:       store,
		Balances:    balances,
		Catalog:     &Catalog{Store: store, Balances: balances},
		Visits:      &VisitService{Store: store, Policy: DefaultAmountPolicy(), Balances: balances},
		Redemptions: &RedemptionService{Store: store},
		Workflow:    &Workflow{Store: store, Balances: balances},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
