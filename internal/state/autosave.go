package state

import (
	"time"

	"github.com/erx-fd/erx-server/internal/logger"
)

// Autosaver periodically persists a Store to its snapshot path using the
// same ticker+stop-channel background-loop shape as the session package's
// nonce cache GC.
type Autosaver struct {
	store    *Store
	path     string
	interval time.Duration
	log      logger.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewAutosaver builds an Autosaver; call Start to begin the background loop.
func NewAutosaver(store *Store, path string, interval time.Duration, log logger.Logger) *Autosaver {
	return &Autosaver{
		store:    store,
		path:     path,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic save loop in a new goroutine.
func (a *Autosaver) Start() {
	go a.loop()
}

// Stop halts the loop and performs one final synchronous save.
func (a *Autosaver) Stop() {
	close(a.stop)
	<-a.done
	if err := a.store.Save(a.path); err != nil {
		a.log.Error("final state snapshot failed", logger.Error(err))
	}
}

func (a *Autosaver) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.store.Save(a.path); err != nil {
				a.log.Error("periodic state snapshot failed", logger.Error(err))
			}
		case <-a.stop:
			return
		}
	}
}
