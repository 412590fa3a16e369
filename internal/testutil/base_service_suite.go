package testutil

import (
	"context"
	"time"

	"github.com/dineloop/dineloop/internal/cache"
	"github.com/dineloop/dineloop/internal/config"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/dineloop/dineloop/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds the repository fakes the service suites share.
type Stores struct {
	SubscriptionRepo *InMemorySubscriptionStore
	InvoiceRepo      *InMemoryInvoiceStore
}

// BaseServiceTestSuite provides common setup for service test suites:
// deterministic clock, test logger, fresh in-memory stores and a fake
// gateway per test.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	stores  Stores
	gateway *FakeGateway
	cache   cache.Cache
	logger  *logger.Logger
	config  *config.Configuration
	now     time.Time
}

// SetupSuite is called once before running the tests in the suite.
func (s *BaseServiceTestSuite) SetupSuite() {
	s.config = config.GetDefaultConfig()

	var err error
	s.logger, err = logger.NewLogger(s.config)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test.
func (s *BaseServiceTestSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.setupContext()
	s.setupStores()
	s.cache = cache.Initialize(s.logger)
}

// TearDownTest is called after each test.
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.SubscriptionRepo.Clear()
	s.stores.InvoiceRepo.Clear()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = context.Background()
	s.ctx = types.SetUserID(s.ctx, "user_test")
	s.ctx = types.SetRequestID(s.ctx, types.GenerateUUID())
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		InvoiceRepo:      NewInMemoryInvoiceStore(),
	}
	s.gateway = NewFakeGateway(s.now)
	s.gateway.Intervals = map[string]Interval{
		s.config.Stripe.Prices.Monthly:    {Months: 1},
		s.config.Stripe.Prices.Semiannual: {Months: 6},
		s.config.Stripe.Prices.Annual:     {Years: 1},
	}
}

// GetContext returns the test context.
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetStores returns the repository fakes.
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetGateway returns the fake billing gateway.
func (s *BaseServiceTestSuite) GetGateway() *FakeGateway {
	return s.gateway
}

// GetCache returns the test cache.
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

// GetLogger returns the test logger.
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetConfig returns the test configuration.
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetNow returns the suite's fixed clock.
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
