package dotdir_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/coach/pkg/dotdir"
)

var _ = Describe("dotdir.Manager session", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())
		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("LoadSession", func() {
		It("returns nil when no session file exists", func() {
			state, err := m.LoadSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("loads a valid session", func() {
			data := `{"thread_id":"thread-42","link":"https://coach.example/t/thread-42"}`
			Expect(os.WriteFile(filepath.Join(tmpDir, "session.json"), []byte(data), 0o644)).To(Succeed())

			state, err := m.LoadSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.ThreadID).To(Equal("thread-42"))
			Expect(state.Link).To(Equal("https://coach.example/t/thread-42"))
		})

		It("treats a session without a thread id as absent", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "session.json"), []byte(`{}`), 0o644)).To(Succeed())

			state, err := m.LoadSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("returns an error for malformed JSON", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "session.json"), []byte("{not json"), 0o644)).To(Succeed())

			_, err := m.LoadSession(tmpDir)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing session state"))
		})
	})

	Describe("SaveSession", func() {
		It("round-trips through LoadSession", func() {
			now := time.Now().UTC().Truncate(time.Second)
			Expect(m.SaveSession(&dotdir.SessionState{ThreadID: "thread-7", UpdatedAt: now}, tmpDir)).To(Succeed())

			state, err := m.LoadSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.ThreadID).To(Equal("thread-7"))
			Expect(state.UpdatedAt.Equal(now)).To(BeTrue())
		})

		It("rejects a nil state", func() {
			Expect(m.SaveSession(nil, tmpDir)).NotTo(Succeed())
		})

		It("rejects a state without a thread id", func() {
			Expect(m.SaveSession(&dotdir.SessionState{}, tmpDir)).NotTo(Succeed())
		})
	})

	Describe("ClearSession", func() {
		It("removes a saved session", func() {
			Expect(m.SaveSession(&dotdir.SessionState{ThreadID: "thread-7"}, tmpDir)).To(Succeed())
			Expect(m.ClearSession(tmpDir)).To(Succeed())

			state, err := m.LoadSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("is a no-op when nothing is saved", func() {
			Expect(m.ClearSession(tmpDir)).To(Succeed())
		})
	})
})
