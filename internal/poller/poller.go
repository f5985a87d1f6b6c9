package poller

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"klinelog/internal/models"
	"klinelog/internal/obd"
	"klinelog/pkg/log"

	"go.uber.org/zap"
)

// Session is the part of obd.Session the polling loop needs.
type Session interface {
	Exchange(ctx context.Context, pid obd.PID) ([]byte, error)
	State() obd.State
	ConnectedAt() time.Time
	Clock() obd.Clock
}

// Sink receives every completed record.
type Sink interface {
	Write(rec models.Record) error
}

// Stats counts what happened over the life of a poller.
type Stats struct {
	Cycles   int
	Skipped  map[string]int
	LastLine string
}

// Poller cycles through its groups until cancelled or the line dies.
type Poller struct {
	session   Session
	groups    []Group
	sinks     []Sink
	maxCycles int

	mu    sync.Mutex
	stats Stats
}

// New creates a poller over a connected session.
func New(session Session, groups []Group, sinks ...Sink) *Poller {
	return &Poller{
		session: session,
		groups:  groups,
		sinks:   sinks,
		stats:   Stats{Skipped: make(map[string]int)},
	}
}

// SetMaxCycles bounds Run to n cycles. Zero means run until cancelled.
func (p *Poller) SetMaxCycles(n int) {
	p.maxCycles = n
}

// Stats returns a snapshot that is safe to read while Run is going.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.Skipped = maps.Clone(p.stats.Skipped)
	return st
}

// Run polls until ctx is cancelled (returns nil), the transport fails
// (returns the transport error) or the cycle limit is reached.
func (p *Poller) Run(ctx context.Context) error {
	if p.session.State() != obd.Connected {
		return obd.ErrNotConnected
	}

	for p.maxCycles == 0 || p.stats.Cycles < p.maxCycles {
		if ctx.Err() != nil {
			return nil
		}

		rec, err := p.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("polling stopped", zap.Error(err), zap.Int("cycles", p.stats.Cycles))
			return err
		}
		p.emit(rec)
	}
	return nil
}

// Cycle runs every group once and returns the record. A failed exchange or
// an undecodable response drops that group from the record; only transport
// failure and cancellation abort the cycle.
func (p *Poller) Cycle(ctx context.Context) (models.Record, error) {
	clock := p.session.Clock()
	now := clock.Now()
	rec := models.Record{
		Time:    now,
		Elapsed: now.Sub(p.session.ConnectedAt()),
	}

	for _, g := range p.groups {
		resp, err := p.session.Exchange(ctx, g.PID)
		if err != nil {
			if obd.IsTransportError(err) || ctx.Err() != nil {
				return rec, err
			}
			p.skip(g, err)
			continue
		}

		readings, err := g.Decode(resp)
		if err != nil {
			p.skip(g, err)
			continue
		}
		rec.Readings = append(rec.Readings, readings...)
	}

	p.mu.Lock()
	p.stats.Cycles++
	p.mu.Unlock()
	return rec, nil
}

func (p *Poller) skip(g Group, err error) {
	p.mu.Lock()
	p.stats.Skipped[g.Name]++
	p.mu.Unlock()
	log.Debug("group skipped", zap.String("group", g.Name), zap.Error(err))
}

func (p *Poller) emit(rec models.Record) {
	line := rec.Line()
	p.mu.Lock()
	p.stats.LastLine = line
	p.mu.Unlock()
	for _, s := range p.sinks {
		if err := s.Write(rec); err != nil {
			log.Warn("sink write failed", zap.Error(err))
		}
	}
}
