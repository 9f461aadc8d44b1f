package app

import (
	"fmt"
	"time"

	"chatcore/pkg/queue"
	"chatcore/pkg/storage"
	"chatcore/pkg/store"
)

const defaultInitialCreditGrant = 1000

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL        string
	Store              store.Store
	Publisher          queue.Publisher
	Objects            storage.ObjectStore
	InitialCreditGrant int64
	JobStaleAfter      time.Duration
}

// App is the backend state layer: identity sync, conversations, the credit
// ledger, and the image job pipeline, wired over one Store.
type App struct {
	store         store.Store
	publisher     queue.Publisher
	objects       storage.ObjectStore
	initialGrant  int64
	jobStaleAfter time.Duration
}

// New constructs the application. Without a database URL it runs on the
// in-process store, which keeps the same atomicity contract.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			dataStore = store.NewMemoryStore()
		} else {
			var err error
			dataStore, err = store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
		}
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	initialGrant := cfg.InitialCreditGrant
	if initialGrant <= 0 {
		initialGrant = defaultInitialCreditGrant
	}
	jobStaleAfter := cfg.JobStaleAfter
	if jobStaleAfter <= 0 {
		jobStaleAfter = 10 * time.Minute
	}
	return &App{
		store:         dataStore,
		publisher:     publisher,
		objects:       cfg.Objects,
		initialGrant:  initialGrant,
		jobStaleAfter: jobStaleAfter,
	}, nil
}
