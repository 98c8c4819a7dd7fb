package publish

import (
	"context"
	"time"

	config "github.com/crosspost-media-core/v2/configuration"
	dal "github.com/crosspost-media-core/v2/dal"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"

	"log"
)

var listDueContent = dal.ListDueScheduledContent

// Dispatcher owns the scheduled publish loop. A single instance polls
// for due items on a fixed tick and publishes them sequentially.
// Running more than one instance would double-publish.
type Dispatcher struct {
	Interval time.Duration
	Now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		Interval: time.Duration(config.GetEnvConfigs().DispatchTickSeconds) * time.Second,
		Now:      time.Now,
	}
}

func (s *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	log.Printf("dispatcher started with tick %s", s.Interval)
}

func (s *Dispatcher) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	log.Printf("dispatcher stopped")
}

func (s *Dispatcher) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce drains the currently due items. Each item is isolated; a
// failure on one never blocks the rest of the batch.
func (s *Dispatcher) RunOnce(ctx context.Context) {
	dueItems, err := listDueContent(s.Now())
	if err != nil {
		log.Printf("dispatcher unable to list due content: %s", err)
		return
	}
	if len(dueItems) == 0 {
		return
	}
	log.Printf("dispatcher found %d due items", len(dueItems))
	for _, item := range dueItems {
		s.dispatchItem(ctx, item)
	}
}

func (s *Dispatcher) dispatchItem(ctx context.Context, item tables.ContentItem) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("correlationID: %s recovered panic dispatching: %v", item.ContentID, r)
		}
	}()
	_, err := PublishPost(ctx, item)
	if err != nil {
		log.Printf("correlationID: %s dispatch error: %s", item.ContentID, err)
	}
}
