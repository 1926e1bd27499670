package thread_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/coach/pkg/thread"
)

var _ = Describe("Manager", func() {
	var m *thread.Manager

	BeforeEach(func() {
		m = thread.NewManager(nil)
	})

	It("starts ephemeral", func() {
		Expect(m.State()).To(Equal(thread.Ephemeral{}))
		_, ok := m.ThreadID()
		Expect(ok).To(BeFalse())
	})

	It("binds on the first adopted id", func() {
		changed, err := m.Adopt("t-42")
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())
		Expect(m.State()).To(Equal(thread.Bound{ID: "t-42"}))
	})

	It("treats an empty id as a no-op", func() {
		changed, err := m.Adopt("")
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeFalse())
		Expect(m.State()).To(Equal(thread.Ephemeral{}))
	})

	It("is idempotent for the bound id", func() {
		_, err := m.Adopt("t-42")
		Expect(err).NotTo(HaveOccurred())

		changed, err := m.Adopt("t-42")
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeFalse())
	})

	It("rejects a different id once bound", func() {
		_, err := m.Adopt("t-42")
		Expect(err).NotTo(HaveOccurred())

		changed, err := m.Adopt("t-99")
		Expect(changed).To(BeFalse())
		Expect(err).To(MatchError(thread.ErrIdentityConflict))

		var conflict *thread.IdentityConflictError
		Expect(errors.As(err, &conflict)).To(BeTrue())
		Expect(conflict.Bound).To(Equal("t-42"))
		Expect(conflict.Received).To(Equal("t-99"))

		Expect(m.State()).To(Equal(thread.Bound{ID: "t-42"}))
	})

	It("reports conflicts through Check without transitioning", func() {
		Expect(m.Check("t-1")).To(Succeed())
		Expect(m.State()).To(Equal(thread.Ephemeral{}))

		_, err := m.Adopt("t-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Check("t-1")).To(Succeed())
		Expect(m.Check("t-2")).To(MatchError(thread.ErrIdentityConflict))
	})

	Describe("OnBound", func() {
		It("notifies listeners exactly once", func() {
			var got []string
			m.OnBound(func(id string) { got = append(got, id) })

			_, _ = m.Adopt("t-42")
			_, _ = m.Adopt("t-42")
			_, _ = m.Adopt("t-99")

			Expect(got).To(Equal([]string{"t-42"}))
		})

		It("lets listeners read the new state", func() {
			var seen thread.State
			m.OnBound(func(string) { seen = m.State() })

			_, _ = m.Adopt("t-7")
			Expect(seen).To(Equal(thread.Bound{ID: "t-7"}))
		})

		It("stops notifying after unsubscribe", func() {
			calls := 0
			unsubscribe := m.OnBound(func(string) { calls++ })
			unsubscribe()

			_, _ = m.Adopt("t-1")
			Expect(calls).To(BeZero())
		})
	})

	It("can start bound", func() {
		m = thread.NewManager(thread.FromID("t-5"))
		id, ok := m.ThreadID()
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal("t-5"))
	})
})
