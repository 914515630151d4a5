package devices

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"go.uber.org/zap"
)

// Poller refreshes the cached hardware position of an idle stage. Position
// changes reach listeners through the stage's own events.
type Poller struct {
	stage    *stage.Stage
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewPoller(s *stage.Stage, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		stage:    s,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.wg.Add(1)

	go p.pollLoop()

	p.logger.Info("Poller started",
		zap.String("stage", p.stage.Name()),
		zap.Duration("interval", p.interval))

	return nil
}

// Stop stops polling and waits for an in-flight read
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.logger.Info("Poller stopped", zap.String("stage", p.stage.Name()))
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.pollStage()
		}
	}
}

func (p *Poller) pollStage() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval/2)
	defer cancel()

	// a move in progress updates the position itself
	refreshed, err := p.stage.TryRefresh(ctx)
	if err != nil {
		p.logger.Warn("Poll failed",
			zap.String("stage", p.stage.Name()),
			zap.Error(err))
		return
	}
	if !refreshed {
		p.logger.Debug("Poll skipped, stage busy", zap.String("stage", p.stage.Name()))
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
