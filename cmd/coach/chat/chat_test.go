package chatcmder_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/papercomputeco/coach/api"
	coachcmder "github.com/papercomputeco/coach/cmd/coach"
	chatcmder "github.com/papercomputeco/coach/cmd/coach/chat"
	"github.com/papercomputeco/coach/pkg/dotdir"
	"github.com/papercomputeco/coach/pkg/relay"
	"github.com/papercomputeco/coach/pkg/storage/inmemory"
	"github.com/papercomputeco/coach/pkg/stream"
	testutils "github.com/papercomputeco/coach/pkg/utils/test"
	"github.com/papercomputeco/coach/pkg/worker"
)

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

var _ = Describe("NewChatCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := chatcmder.NewChatCmd()
		Expect(cmd.Use).To(Equal("chat"))
	})

	It("registers the shared registry flags", func() {
		cmd := chatcmder.NewChatCmd()
		for _, name := range []string{"provider", "service-target", "api-target", "events-target", "link-base", "upstream", "model", "silence-timeout", "breaker-failures", "kafka-brokers", "kafka-topic"} {
			Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
	})

	It("has --thread and --new flags", func() {
		cmd := chatcmder.NewChatCmd()
		Expect(cmd.Flags().Lookup("thread")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("new")).NotTo(BeNil())
	})

	It("defaults to the coach provider", func() {
		cmd := chatcmder.NewChatCmd()
		Expect(cmd.Flags().Lookup("provider").DefValue).To(Equal("coach"))
	})
})

var _ = Describe("Chat session", func() {
	var (
		driver    *inmemory.Driver
		target    string
		configDir string
		dirs      *dotdir.Manager
	)

	BeforeEach(func() {
		logger := zap.NewNop()
		driver = inmemory.NewDriver()

		pool, err := worker.NewPool(&worker.Config{Driver: driver, Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		upstream := testutils.FixedClient([]string{"Great ", "question!"}, &stream.Result{}, nil)
		server := api.NewServer(api.Config{Provider: "ollama"}, driver, logger,
			api.WithUpstream(upstream),
			api.WithWorkerPool(pool),
			api.WithIDGenerator(sequentialIDs("id")),
		)

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		go func() { _ = server.RunWithListener(ln) }()
		DeferCleanup(func() { _ = server.Shutdown() })
		target = "http://" + ln.Addr().String()

		configDir = GinkgoT().TempDir()
		dirs = dotdir.NewManager()
	})

	chat := func(in io.Reader, out io.Writer, args ...string) error {
		cmd := coachcmder.NewCoachCmd()
		cmd.SetIn(in)
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(append([]string{
			"chat",
			"--config-dir", configDir,
			"--service-target", target,
			"--api-target", target,
		}, args...))
		return cmd.Execute()
	}

	It("streams the reply and saves the bound thread", func() {
		out := gbytes.NewBuffer()
		Expect(chat(strings.NewReader("hello\n/thread\n/exit\n"), out)).To(Succeed())

		Expect(out).To(gbytes.Say("Great question!"))
		Expect(out).To(gbytes.Say(`Thread:.*id-1`))

		state, err := dirs.LoadSession(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).NotTo(BeNil())
		Expect(state.ThreadID).To(Equal("id-1"))
	})

	It("resumes the saved thread with its history", func() {
		Expect(chat(strings.NewReader("hello\n"), io.Discard)).To(Succeed())
		Eventually(func() int {
			records, _ := driver.List(context.Background(), "id-1")
			return len(records)
		}).Should(Equal(2))

		out := gbytes.NewBuffer()
		Expect(chat(strings.NewReader("/thread\n"), out)).To(Succeed())

		Expect(out).To(gbytes.Say(`Resuming.*id-1`))
		Expect(out).To(gbytes.Say("hello"))
		Expect(out).To(gbytes.Say("Great question!"))
		Expect(out).To(gbytes.Say(`Thread:.*id-1`))
	})

	It("starts over with --new", func() {
		Expect(dirs.SaveSession(&dotdir.SessionState{ThreadID: "old-thread"}, configDir)).To(Succeed())

		out := gbytes.NewBuffer()
		Expect(chat(strings.NewReader("/thread\n"), out, "--new")).To(Succeed())

		Expect(out).NotTo(gbytes.Say("Resuming"))
		Expect(string(out.Contents())).To(ContainSubstring("no thread yet"))

		state, err := dirs.LoadSession(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())
	})

	It("keeps the conversation usable when history cannot be loaded", func() {
		out := gbytes.NewBuffer()
		Expect(chat(strings.NewReader("/thread\n"), out, "--thread", "unknown")).To(Succeed())

		Expect(string(out.Contents())).To(ContainSubstring("Could not load earlier messages."))
		Expect(string(out.Contents())).To(ContainSubstring("no thread yet"))
	})

	It("reports when there is nothing to accept", func() {
		out := gbytes.NewBuffer()
		Expect(chat(strings.NewReader("/accept\n"), out)).To(Succeed())
		Expect(string(out.Contents())).To(ContainSubstring("No plan proposal to accept."))
	})

	It("rejects an unknown provider", func() {
		err := chat(strings.NewReader(""), io.Discard, "--provider", "nope")
		Expect(err).To(MatchError(ContainSubstring(`unknown provider "nope"`)))
	})

	It("rejects an invalid silence timeout", func() {
		err := chat(strings.NewReader(""), io.Discard, "--silence-timeout", "soon")
		Expect(err).To(MatchError(ContainSubstring("invalid silence timeout")))
	})

	It("surfaces plan proposals from the events feed", func() {
		connected := make(chan string, 1)
		events := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			select {
			case connected <- r.URL.Query().Get("thread_id"):
			default:
			}

			_ = wsjson.Write(r.Context(), conn, relay.Event{
				ID:      "p-1",
				Kind:    relay.KindPlanProposal,
				Payload: map[string]any{"title": "Deload week", "summary": "Cut volume by a third."},
			})
			_, _, _ = conn.Read(r.Context())
		}))
		DeferCleanup(events.Close)

		in, input := io.Pipe()
		out := gbytes.NewBuffer()
		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- chat(in, out, "--events-target", events.URL)
		}()

		_, err := io.WriteString(input, "hello\n")
		Expect(err).NotTo(HaveOccurred())
		Eventually(connected).Should(Receive(Equal("id-1")))
		Eventually(out).Should(gbytes.Say("Deload"))

		_, err = io.WriteString(input, "/accept\n")
		Expect(err).NotTo(HaveOccurred())
		Eventually(out).Should(gbytes.Say("Plan change accepted"))

		Expect(input.Close()).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))
	})

	It("writes the session under the config dir", func() {
		Expect(chat(strings.NewReader("hello\n"), io.Discard)).To(Succeed())
		_, err := os.Stat(filepath.Join(configDir, "session.json"))
		Expect(err).NotTo(HaveOccurred())
	})
})
