package kafkaconsumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/ckhsu/vvmviz/internal/invalidation"
)

type fakeTarget struct {
	mu      sync.Mutex
	sim     string
	reasons []string
}

func (f *fakeTarget) Simulation() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sim
}

func (f *fakeTarget) Invalidate(reason string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

type fakePurger struct {
	mu     sync.Mutex
	purges int
}

func (f *fakePurger) Purge() {
	f.mu.Lock()
	f.purges++
	f.mu.Unlock()
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "vvm-dataset-updates" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(op, sim string) []byte {
	b, _ := json.Marshal(invalidation.Event{
		Version: 1, Op: op, Simulation: sim, TS: time.Now().UTC(),
	})
	return b
}

func newConsumerForTest(target Target, purger CatalogPurger) *Consumer {
	return New(NewConfig([]string{"x"}, "vvm-dataset-updates", "g"), nil, target, purger)
}

func TestProcessOne_RewriteInvalidates(t *testing.T) {
	target := &fakeTarget{sim: "tpe20110802cln"}
	purger := &fakePurger{}
	c := newConsumerForTest(target, purger)

	msg := &sarama.ConsumerMessage{Topic: "t", Offset: 1, Value: eventBytes("rewrite", "tpe20110802cln")}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(target.reasons) != 1 || target.reasons[0] != "dataset-rewrite" {
		t.Fatalf("reasons = %v", target.reasons)
	}
}

func TestProcessOne_AppendPurgesCatalogOnly(t *testing.T) {
	target := &fakeTarget{sim: "tpe20110802cln"}
	purger := &fakePurger{}
	c := newConsumerForTest(target, purger)

	msg := &sarama.ConsumerMessage{Topic: "t", Offset: 1, Value: eventBytes("append", "tpe20110802cln")}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(target.reasons) != 0 {
		t.Fatalf("append must not drop frames, got invalidations %v", target.reasons)
	}
	if purger.purges != 1 {
		t.Fatalf("purges = %d", purger.purges)
	}
}

func TestProcessOne_SkipsInactiveSimulation(t *testing.T) {
	target := &fakeTarget{sim: "tpe20110802cln"}
	c := newConsumerForTest(target, nil)

	msg := &sarama.ConsumerMessage{Topic: "t", Offset: 1, Value: eventBytes("rewrite", "tpe20140525nor")}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(target.reasons) != 0 {
		t.Fatalf("other simulation must be skipped, got %v", target.reasons)
	}
}

func TestProcessOne_RejectsMalformed(t *testing.T) {
	c := newConsumerForTest(&fakeTarget{sim: "s"}, nil)
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: eventBytes("truncate", "s")}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConsumeClaim_OrderAndCommitAfterWork(t *testing.T) {
	target := &fakeTarget{sim: "tpe20110802cln"}
	c := newConsumerForTest(target, &fakePurger{})

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "t", Offset: 10, Value: eventBytes("rewrite", "tpe20110802cln")}
	ch <- &sarama.ConsumerMessage{Topic: "t", Offset: 11, Value: eventBytes("append", "tpe20110802cln")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestConsumeClaim_FailureStopsBeforeCommit(t *testing.T) {
	c := newConsumerForTest(&fakeTarget{sim: "s"}, nil)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "t", Offset: 5, Value: []byte("not json")}
	ch <- &sarama.ConsumerMessage{Topic: "t", Offset: 6, Value: eventBytes("rewrite", "s")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected processing error to propagate")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message must not be committed; marked=%v", s.marked)
	}
}

func TestHandlerReadiness(t *testing.T) {
	c := newConsumerForTest(&fakeTarget{sim: "s"}, nil)
	h := &groupHandler{joined: func(ok bool) { c.ready.Store(ok) }}
	if c.Ready() {
		t.Fatal("must start not ready")
	}
	_ = h.Setup(nil)
	if !c.Ready() {
		t.Fatal("Setup must mark ready")
	}
	_ = h.Cleanup(nil)
	if c.Ready() {
		t.Fatal("Cleanup must mark not ready")
	}
}
