package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/metrics"
	"github.com/papercomputeco/coach/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/coach/pkg/utils/test"
)

var _ = Describe("Transcript API", func() {
	var (
		server *Server
		driver *inmemory.Driver
		m      *metrics.Metrics
		ctx    context.Context
	)

	BeforeEach(func() {
		logger, _ := zap.NewDevelopment()
		driver = inmemory.NewDriver()
		m = metrics.New()
		server = NewServer(Config{ListenAddr: ":0"}, driver, logger, WithMetrics(m))
		ctx = context.Background()

		base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
		Expect(driver.Append(ctx,
			testutils.NewRecord("thread-a", "u-1", llm.RoleUser, "Plan my week", base),
			testutils.NewRecord("thread-a", "a-1", llm.RoleAssistant, "Monday: rest", base.Add(time.Second)),
			testutils.NewRecord("thread-b", "u-2", llm.RoleUser, "Stretch ideas?", base.Add(time.Hour)),
		)).To(Succeed())
	})

	It("answers ping", func() {
		resp, err := server.app.Test(httptest.NewRequest("GET", "/ping", nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(200))
	})

	Describe("GET /threads", func() {
		It("lists threads most recently updated first", func() {
			resp, err := server.app.Test(httptest.NewRequest("GET", "/threads", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))

			var body ThreadsResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Count).To(Equal(2))
			Expect(body.Threads[0].ID).To(Equal("thread-b"))
			Expect(body.Threads[1].ID).To(Equal("thread-a"))
			Expect(body.Threads[1].MessageCount).To(Equal(2))
		})
	})

	Describe("GET /threads/:id/messages", func() {
		It("returns the ordered transcript", func() {
			resp, err := server.app.Test(httptest.NewRequest("GET", "/threads/thread-a/messages", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))

			var body llm.HistoryResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.ThreadID).To(Equal("thread-a"))
			Expect(body.Messages).To(Equal([]llm.HistoryMessage{
				{ID: "u-1", Role: llm.RoleUser, Content: "Plan my week"},
				{ID: "a-1", Role: llm.RoleAssistant, Content: "Monday: rest"},
			}))
		})

		It("returns 404 for an unknown thread", func() {
			resp, err := server.app.Test(httptest.NewRequest("GET", "/threads/missing/messages", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))

			var body llm.ErrorResponse
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Error).To(Equal("thread not found"))
		})

		It("counts history requests by status class", func() {
			_, err := server.app.Test(httptest.NewRequest("GET", "/threads/thread-a/messages", nil))
			Expect(err).NotTo(HaveOccurred())
			_, err = server.app.Test(httptest.NewRequest("GET", "/threads/missing/messages", nil))
			Expect(err).NotTo(HaveOccurred())

			count, err := testutil.GatherAndCount(m.Registry(), "coach_history_requests_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))
		})
	})

	Describe("GET /metrics", func() {
		It("exposes the private registry", func() {
			_, err := server.app.Test(httptest.NewRequest("GET", "/threads/thread-a/messages", nil))
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(httptest.NewRequest("GET", "/metrics", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(200))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("coach_history_requests_total"))
		})

		It("is not mounted without metrics", func() {
			bare := NewServer(Config{}, driver, nil)
			resp, err := bare.app.Test(httptest.NewRequest("GET", "/metrics", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
		})
	})
})
