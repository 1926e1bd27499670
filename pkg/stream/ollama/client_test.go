package ollama_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/stream/ollama"
)

type capturedRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		received capturedRequest
		lines    []string
	)

	BeforeEach(func() {
		lines = nil
		received = capturedRequest{}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/api/chat"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())

			w.Header().Set("Content-Type", "application/x-ndjson")
			for _, line := range lines {
				fmt.Fprintln(w, line)
			}
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	run := func(opts ...ollama.Option) ([]string, *stream.Result, error) {
		var fragments []string
		c := ollama.New(server.URL, opts...)
		res, err := c.Stream(context.Background(), &stream.Request{
			ThreadID: "ignored",
			Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "plan my week")},
		}, func(s string) { fragments = append(fragments, s) })
		return fragments, res, err
	}

	It("streams content chunks until done", func() {
		lines = []string{
			`{"model":"gemma3","message":{"role":"assistant","content":"Rest"},"done":false}`,
			`{"model":"gemma3","message":{"role":"assistant","content":" day."},"done":false}`,
			`{"model":"gemma3","message":{"role":"assistant","content":""},"done":true}`,
		}

		fragments, res, err := run(ollama.WithModel("gemma3"))
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments).To(Equal([]string{"Rest", " day."}))
		Expect(res.ThreadID).To(BeEmpty())
		Expect(received.Model).To(Equal("gemma3"))
		Expect(received.Stream).To(BeTrue())
	})

	It("prepends the system prompt", func() {
		lines = []string{`{"done":true}`}

		_, _, err := run(ollama.WithSystemPrompt("You are a coach."))
		Expect(err).NotTo(HaveOccurred())
		Expect(received.Messages).To(HaveLen(2))
		Expect(received.Messages[0]).To(Equal(llm.NewTextMessage(llm.RoleSystem, "You are a coach.")))
	})

	It("uses the default model", func() {
		lines = []string{`{"done":true}`}

		_, _, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(received.Model).To(Equal(ollama.DefaultModel))
	})

	It("fails on error lines", func() {
		lines = []string{`{"error":"model not found"}`}

		_, _, err := run()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("model not found"))
	})

	It("fails when the stream ends before done", func() {
		lines = []string{`{"message":{"role":"assistant","content":"Hal"},"done":false}`}

		fragments, _, err := run()
		Expect(err).To(MatchError(stream.ErrTruncated))
		Expect(fragments).To(Equal([]string{"Hal"}))
	})

	It("skips unparseable lines", func() {
		lines = []string{`garbage`, `{"message":{"content":"ok"},"done":true}`}

		fragments, _, err := run()
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments).To(Equal([]string{"ok"}))
	})
})
