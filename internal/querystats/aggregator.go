package querystats

import (
	"context"
	"sort"
	"sync/atomic"
	"time"
)

const defaultBuffer = 1024

// Stat accumulates the timings of one normalized statement.
type Stat struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total_time"`
	Min   time.Duration `json:"min_time"`
	Max   time.Duration `json:"max_time"`
	Avg   time.Duration `json:"avg_time"`
}

func (s *Stat) add(elapsed time.Duration) {
	if s.Count == 0 || elapsed < s.Min {
		s.Min = elapsed
	}
	if elapsed > s.Max {
		s.Max = elapsed
	}
	s.Count++
	s.Total += elapsed
	s.Avg = s.Total / time.Duration(s.Count)
}

// Entry pairs a statement shape with its statistics.
type Entry struct {
	Query string `json:"query"`
	Stat
}

type messageKind int

const (
	kindObserve messageKind = iota
	kindSnapshot
	kindReset
)

type message struct {
	kind    messageKind
	query   string
	elapsed time.Duration
	reply   chan map[string]Stat
}

// Aggregator owns the statistics table. Only the Run goroutine touches the
// map; everything else talks to it over a single FIFO channel, so a snapshot
// sees every observation that was accepted before it.
type Aggregator struct {
	inbox   chan message
	dropped atomic.Int64
}

func NewAggregator(buffer int) *Aggregator {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Aggregator{inbox: make(chan message, buffer)}
}

// Run processes messages until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	stats := make(map[string]*Stat)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.inbox:
			switch msg.kind {
			case kindObserve:
				st, ok := stats[msg.query]
				if !ok {
					st = &Stat{}
					stats[msg.query] = st
				}
				st.add(msg.elapsed)
			case kindSnapshot:
				out := make(map[string]Stat, len(stats))
				for query, st := range stats {
					out[query] = *st
				}
				msg.reply <- out
			case kindReset:
				stats = make(map[string]*Stat)
				a.dropped.Store(0)
				msg.reply <- nil
			}
		}
	}
}

// Observe records one execution of an already normalized statement. It never
// blocks: when the inbox is full the observation is dropped and counted.
func (a *Aggregator) Observe(query string, elapsed time.Duration) {
	select {
	case a.inbox <- message{kind: kindObserve, query: query, elapsed: elapsed}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports observations lost to a full inbox since the last reset.
func (a *Aggregator) Dropped() int64 {
	return a.dropped.Load()
}

// Snapshot returns a copy of the current table.
func (a *Aggregator) Snapshot(ctx context.Context) (map[string]Stat, error) {
	return a.request(ctx, kindSnapshot)
}

// Reset clears the table and the dropped counter.
func (a *Aggregator) Reset(ctx context.Context) error {
	_, err := a.request(ctx, kindReset)
	return err
}

func (a *Aggregator) request(ctx context.Context, kind messageKind) (map[string]Stat, error) {
	reply := make(chan map[string]Stat, 1)
	select {
	case a.inbox <- message{kind: kind, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sorted orders a snapshot by total time spent, largest first.
func Sorted(stats map[string]Stat) []Entry {
	entries := make([]Entry, 0, len(stats))
	for query, st := range stats {
		entries = append(entries, Entry{Query: query, Stat: st})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Total == entries[j].Total {
			return entries[i].Query < entries[j].Query
		}
		return entries[i].Total > entries[j].Total
	})
	return entries
}
