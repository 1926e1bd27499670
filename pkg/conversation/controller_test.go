package conversation_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker/v2"

	"github.com/papercomputeco/coach/pkg/conversation"
	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/metrics"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/thread"
	"github.com/papercomputeco/coach/pkg/transcript"
	testutils "github.com/papercomputeco/coach/pkg/utils/test"
)

var _ = Describe("Controller", func() {
	newController := func(client stream.Client, mutate ...func(*conversation.Config)) *conversation.Controller {
		cfg := conversation.Config{
			Client: client,
			NewID:  sequentialIDs(),
		}
		for _, m := range mutate {
			m(&cfg)
		}
		c, err := conversation.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(c.Close)
		return c
	}

	It("requires a stream client", func() {
		_, err := conversation.New(conversation.Config{})
		Expect(err).To(MatchError(conversation.ErrNoClient))
	})

	Describe("a successful exchange", func() {
		It("streams fragments into the reply and stays ephemeral without a thread id", func() {
			c := newController(testutils.FixedClient([]string{"H", "ello", "!"}, &stream.Result{}, nil))

			Expect(c.Send("hi")).To(Succeed())
			waitSettled(c)

			Expect(view(c.Snapshot())).To(Equal([]turnView{
				{Role: llm.RoleUser, Text: "hi"},
				{Role: llm.RoleAssistant, Text: "Hello!"},
			}))
			Expect(c.Pending()).To(BeFalse())
			Expect(c.Thread()).To(Equal(thread.Ephemeral{}))
		})

		It("binds the conversation to a supplied thread id", func() {
			c := newController(testutils.FixedClient([]string{"H", "ello", "!"}, &stream.Result{ThreadID: "t-42"}, nil))

			Expect(c.Send("hi")).To(Succeed())
			waitSettled(c)

			Expect(c.Thread()).To(Equal(thread.Bound{ID: "t-42"}))
			Expect(c.Snapshot()[1].Text).To(Equal("Hello!"))
		})

		DescribeTable("folds fragments of any granularity into their concatenation",
			func(fragments []string) {
				c := newController(testutils.FixedClient(fragments, &stream.Result{}, nil))

				Expect(c.Send("go")).To(Succeed())
				waitSettled(c)

				Expect(c.Snapshot()[1].Text).To(Equal(strings.Join(fragments, "")))
				Expect(c.Snapshot()[1].Streaming).To(BeFalse())
			},
			Entry("single characters", strings.Split("Rest on Sunday.", "")),
			Entry("whole words", []string{"Rest ", "on ", "Sunday."}),
			Entry("one chunk", []string{"Rest on Sunday."}),
			Entry("with empty no-ops", []string{"", "Rest", "", " on Sunday.", ""}),
			Entry("no fragments", []string{}),
		)

		It("leaves untouched turns referentially unchanged", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)

			Expect(c.Send("hi")).To(Succeed())
			call := nextCall(client)
			before := c.Snapshot()

			call.Fragment("Hel")
			after := c.Snapshot()

			Expect(after[0]).To(BeIdenticalTo(before[0]))
			Expect(after[1]).NotTo(BeIdenticalTo(before[1]))
			Expect(before[1].Text).To(BeEmpty())
			Expect(after[1].Text).To(Equal("Hel"))

			call.Succeed("")
			waitSettled(c)
		})

		It("reports the completed exchange", func() {
			var exchanges []conversation.Exchange
			c := newController(
				testutils.FixedClient([]string{"Sure."}, &stream.Result{ThreadID: "t-7"}, nil),
				func(cfg *conversation.Config) {
					cfg.OnExchange = func(ex conversation.Exchange) { exchanges = append(exchanges, ex) }
				},
			)

			Expect(c.Send("plan my week")).To(Succeed())
			waitSettled(c)

			Expect(exchanges).To(HaveLen(1))
			Expect(exchanges[0].ThreadID).To(Equal("t-7"))
			Expect(exchanges[0].User.Text).To(Equal("plan my week"))
			Expect(exchanges[0].Assistant.Text).To(Equal("Sure."))
			Expect(exchanges[0].CompletedAt).NotTo(BeTemporally("<", exchanges[0].StartedAt))
		})
	})

	Describe("a failed exchange", func() {
		It("replaces the reply with the fallback message", func() {
			rec := &recorder{}
			c := newController(testutils.FixedClient([]string{"partial"}, nil, errors.New("connection reset")))
			c.Subscribe(rec.record)

			Expect(c.Send("hi")).To(Succeed())
			waitSettled(c)

			reply := c.Snapshot()[1]
			Expect(reply.Text).To(Equal(conversation.DefaultFallbackMessage))
			Expect(reply.Streaming).To(BeFalse())
			Expect(c.Pending()).To(BeFalse())

			events := rec.Events()
			last := events[len(events)-1]
			Expect(last.Kind).To(Equal(conversation.TurnFailed))
			Expect(last.Err).To(MatchError(conversation.ErrStreamFailure))
			Expect(last.Err.Error()).To(ContainSubstring("connection reset"))
		})

		It("uses a configured fallback message", func() {
			c := newController(
				testutils.FixedClient(nil, nil, stream.ErrTruncated),
				func(cfg *conversation.Config) { cfg.FallbackMessage = "Coach is offline." },
			)

			Expect(c.Send("hi")).To(Succeed())
			waitSettled(c)
			Expect(c.Snapshot()[1].Text).To(Equal("Coach is offline."))
		})

		It("allows the next send", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)

			Expect(c.Send("hi")).To(Succeed())
			nextCall(client).Fail(errors.New("boom"))
			waitSettled(c)

			Expect(c.Send("again")).To(Succeed())
			call := nextCall(client)
			Expect(call.Request.Messages).To(Equal([]llm.Message{
				{Role: llm.RoleUser, Content: "hi"},
				{Role: llm.RoleAssistant, Content: conversation.DefaultFallbackMessage},
				{Role: llm.RoleUser, Content: "again"},
			}))
			call.Succeed("")
			waitSettled(c)
		})
	})

	Describe("input resolution", func() {
		It("rejects an empty send without appending turns or calling the service", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)

			Expect(c.SendDraft()).To(MatchError(conversation.ErrEmptyInput))
			Expect(c.Send("   ")).To(MatchError(conversation.ErrEmptyInput))
			Expect(c.Snapshot()).To(BeEmpty())
			Consistently(client.CallCount).Should(BeZero())
		})

		It("sends the trimmed draft and clears it", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)
			c.SetDraft("  plan my week  ")

			Expect(c.SendDraft()).To(Succeed())
			Expect(c.Draft()).To(BeEmpty())
			Expect(c.Snapshot()[0].Text).To(Equal("plan my week"))

			nextCall(client).Succeed("")
			waitSettled(c)
		})

		It("keeps the draft on explicit sends", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)
			c.SetDraft("half-typed")

			Expect(c.Send("suggested prompt")).To(Succeed())
			Expect(c.Draft()).To(Equal("half-typed"))

			nextCall(client).Succeed("")
			waitSettled(c)
		})
	})

	Describe("turn ids", func() {
		It("leaves the transcript and draft untouched when an id collides", func() {
			ids := []string{"u-1", "a-1", "u-2", "u-1"}
			next := 0
			c := newController(testutils.FixedClient([]string{"ok"}, &stream.Result{}, nil), func(cfg *conversation.Config) {
				cfg.NewID = func() string {
					id := ids[next]
					next++
					return id
				}
			})

			Expect(c.Send("hi")).To(Succeed())
			waitSettled(c)
			before := c.Snapshot()

			c.SetDraft("again")
			Expect(c.SendDraft()).To(MatchError(transcript.ErrDuplicateID))
			Expect(c.Snapshot()).To(Equal(before))
			Expect(c.Draft()).To(Equal("again"))
			Expect(c.Pending()).To(BeFalse())
		})
	})

	Describe("re-entrancy", func() {
		It("rejects sends while pending without a second turn or call", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)

			Expect(c.Send("hi")).To(Succeed())
			call := nextCall(client)
			Expect(c.Pending()).To(BeTrue())

			c.SetDraft("second")
			Expect(c.Send("second")).To(MatchError(conversation.ErrAlreadyPending))
			Expect(c.SendDraft()).To(MatchError(conversation.ErrAlreadyPending))
			Expect(c.Draft()).To(Equal("second"))
			Expect(c.Snapshot()).To(HaveLen(2))
			Expect(client.CallCount()).To(Equal(1))

			call.Succeed("")
			waitSettled(c)
			Expect(c.Pending()).To(BeFalse())
			Expect(client.CallCount()).To(Equal(1))
		})
	})

	Describe("outbound history", func() {
		It("carries prior turns and the bound thread id", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)

			Expect(c.Send("hi")).To(Succeed())
			first := nextCall(client)
			Expect(first.Request.ThreadID).To(BeEmpty())
			Expect(first.Request.Messages).To(Equal([]llm.Message{{Role: llm.RoleUser, Content: "hi"}}))
			first.Fragment("Hello!")
			first.Succeed("t-42")
			waitSettled(c)

			Expect(c.Send("plan my week")).To(Succeed())
			second := nextCall(client)
			Expect(second.Request.ThreadID).To(Equal("t-42"))
			Expect(second.Request.Messages).To(Equal([]llm.Message{
				{Role: llm.RoleUser, Content: "hi"},
				{Role: llm.RoleAssistant, Content: "Hello!"},
				{Role: llm.RoleUser, Content: "plan my week"},
			}))
			second.Succeed("t-42")
			waitSettled(c)
		})
	})

	Describe("events", func() {
		It("are delivered in mutation order", func() {
			rec := &recorder{}
			client := testutils.NewScriptedClient()
			c := newController(client)
			c.Subscribe(rec.record)

			Expect(c.Send("hi")).To(Succeed())
			call := nextCall(client)
			call.Fragment("He")
			call.Fragment("")
			call.Fragment("y")
			call.Succeed("")
			waitSettled(c)

			Expect(rec.Kinds()).To(Equal([]conversation.EventKind{
				conversation.TurnAppended,
				conversation.TurnAppended,
				conversation.TurnUpdated,
				conversation.TurnUpdated,
				conversation.TurnFinalized,
			}))
			events := rec.Events()
			Expect(events[0].Turn.Role).To(Equal(llm.RoleUser))
			Expect(events[1].Turn.Streaming).To(BeTrue())
			Expect(events[3].Fragment).To(Equal("y"))
			Expect(events[3].Turn.Text).To(Equal("Hey"))
			Expect(events[4].Turn.Streaming).To(BeFalse())
		})

		It("stop after unsubscribe", func() {
			rec := &recorder{}
			c := newController(testutils.FixedClient([]string{"x"}, &stream.Result{}, nil))
			unsubscribe := c.Subscribe(rec.record)
			unsubscribe()

			Expect(c.Send("hi")).To(Succeed())
			waitSettled(c)
			Expect(rec.Events()).To(BeEmpty())
		})
	})

	Describe("supersession", func() {
		It("drops every event of a call superseded by Close", func() {
			rec := &recorder{}
			m := metrics.New()
			client := testutils.NewScriptedClient()
			c := newController(client, func(cfg *conversation.Config) { cfg.Metrics = m })

			Expect(c.Send("hi")).To(Succeed())
			call := nextCall(client)
			call.Fragment("Hel")
			c.Subscribe(rec.record)
			before := c.Snapshot()

			c.Close()
			Expect(call.Ctx.Err()).To(MatchError(context.Canceled))
			Expect(context.Cause(call.Ctx)).To(MatchError(context.Canceled))
			Expect(c.Pending()).To(BeFalse())
			waitSettled(c)

			call.Fragment("lo")
			call.Succeed("t-99")

			Consistently(c.Snapshot).Should(Equal(before))
			Expect(rec.Events()).To(BeEmpty())
			Expect(c.Thread()).To(Equal(thread.Ephemeral{}))
			Expect(c.Send("again")).To(MatchError(conversation.ErrClosed))
			Eventually(func() float64 {
				return counterValue(m, "coach_stale_events_dropped_total")
			}).Should(Equal(2.0))
		})

		It("abandons a silent call with a timeout failure", func() {
			rec := &recorder{}
			client := testutils.NewScriptedClient()
			c := newController(client, func(cfg *conversation.Config) {
				cfg.SilenceTimeout = 50 * time.Millisecond
			})
			c.Subscribe(rec.record)

			Expect(c.Send("hi")).To(Succeed())
			call := nextCall(client)
			waitSettled(c)

			reply := c.Snapshot()[1]
			Expect(reply.Text).To(Equal(conversation.DefaultFallbackMessage))
			Expect(reply.Streaming).To(BeFalse())
			Expect(call.Ctx.Err()).To(MatchError(context.Canceled))
			Expect(context.Cause(call.Ctx)).To(MatchError(stream.ErrIdle))

			events := rec.Events()
			failed := events[len(events)-1]
			Expect(failed.Kind).To(Equal(conversation.TurnFailed))
			Expect(failed.Err).To(MatchError(conversation.ErrTimeout))
			Expect(failed.Err).To(MatchError(conversation.ErrStreamFailure))

			call.Fragment("late")
			call.Succeed("t-1")
			Consistently(func() string { return c.Snapshot()[1].Text }).Should(Equal(conversation.DefaultFallbackMessage))
			Expect(c.Thread()).To(Equal(thread.Ephemeral{}))

			Expect(c.Send("retry")).To(Succeed())
			nextCall(client).Succeed("")
			waitSettled(c)
		})

		It("ignores a superseded call interleaved with the live one", func() {
			client := testutils.NewScriptedClient()
			c := newController(client, func(cfg *conversation.Config) {
				cfg.SilenceTimeout = 200 * time.Millisecond
			})

			Expect(c.Send("hi")).To(Succeed())
			stale := nextCall(client)
			waitSettled(c)

			Expect(c.Send("retry")).To(Succeed())
			live := nextCall(client)

			stale.Fragment("STALE")
			live.Fragment("fresh")
			stale.Succeed("t-x")
			live.Succeed("")
			waitSettled(c)

			Expect(view(c.Snapshot())).To(Equal([]turnView{
				{Role: llm.RoleUser, Text: "hi"},
				{Role: llm.RoleAssistant, Text: conversation.DefaultFallbackMessage},
				{Role: llm.RoleUser, Text: "retry"},
				{Role: llm.RoleAssistant, Text: "fresh"},
			}))
			Consistently(c.Thread).Should(Equal(thread.Ephemeral{}))
		})

		It("opens the circuit breaker when the service keeps going silent", func() {
			var calls atomic.Int32
			silent := stream.ClientFunc(func(ctx context.Context, _ *stream.Request, _ stream.FragmentFunc) (*stream.Result, error) {
				calls.Add(1)
				<-ctx.Done()
				return nil, ctx.Err()
			})
			breaker := stream.NewBreaker(silent, stream.BreakerConfig{MaxFailures: 1, Timeout: time.Hour})
			c := newController(breaker, func(cfg *conversation.Config) {
				cfg.SilenceTimeout = 20 * time.Millisecond
			})

			Expect(c.Send("hi")).To(Succeed())
			waitSettled(c)
			Eventually(breaker.State).Should(Equal(gobreaker.StateOpen))

			rec := &recorder{}
			c.Subscribe(rec.record)
			Expect(c.Send("again")).To(Succeed())
			waitSettled(c)

			Expect(calls.Load()).To(Equal(int32(1)))
			events := rec.Events()
			failed := events[len(events)-1]
			Expect(failed.Kind).To(Equal(conversation.TurnFailed))
			Expect(failed.Err).To(MatchError(stream.ErrCircuitOpen))
		})

		It("keeps a call alive while fragments keep arriving", func() {
			client := testutils.NewScriptedClient()
			c := newController(client, func(cfg *conversation.Config) {
				cfg.SilenceTimeout = 300 * time.Millisecond
			})

			Expect(c.Send("hi")).To(Succeed())
			call := nextCall(client)
			for range 6 {
				time.Sleep(100 * time.Millisecond)
				call.Fragment(".")
			}
			call.Succeed("")
			waitSettled(c)

			Expect(c.Snapshot()[1].Text).To(Equal("......"))
		})
	})

	Describe("thread identity", func() {
		It("binds exactly once and rejects a conflicting id", func() {
			var bound []string
			rec := &recorder{}
			client := testutils.NewScriptedClient()
			c := newController(client)
			c.Threads().OnBound(func(id string) { bound = append(bound, id) })
			c.Subscribe(rec.record)

			Expect(c.Send("one")).To(Succeed())
			nextCall(client).Succeed("t-42")
			waitSettled(c)

			Expect(c.Send("two")).To(Succeed())
			nextCall(client).Succeed("t-42")
			waitSettled(c)

			Expect(c.Send("three")).To(Succeed())
			call := nextCall(client)
			call.Fragment("reply under the wrong thread")
			call.Succeed("t-99")
			waitSettled(c)

			Expect(bound).To(Equal([]string{"t-42"}))
			Expect(c.Thread()).To(Equal(thread.Bound{ID: "t-42"}))

			turns := c.Snapshot()
			Expect(turns).To(HaveLen(6))
			Expect(turns[5].Text).To(Equal(conversation.DefaultFallbackMessage))

			events := rec.Events()
			failed := events[len(events)-1]
			Expect(failed.Kind).To(Equal(conversation.TurnFailed))
			Expect(failed.Err).To(MatchError(thread.ErrIdentityConflict))
		})

		It("leaves the transcript intact when binding", func() {
			client := testutils.NewScriptedClient()
			c := newController(client)

			Expect(c.Send("hi")).To(Succeed())
			call := nextCall(client)
			call.Fragment("Hello")
			before := c.Snapshot()
			call.Succeed("t-1")
			waitSettled(c)

			after := c.Snapshot()
			Expect(after).To(HaveLen(2))
			Expect(after[0]).To(BeIdenticalTo(before[0]))
			Expect(after[1].Text).To(Equal("Hello"))
		})
	})
})
