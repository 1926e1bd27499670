package testutils

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/storage"
)

// NewRecord creates a record for tests.
func NewRecord(threadID, id string, role llm.Role, content string, at time.Time) storage.Record {
	return storage.Record{
		ID:        id,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

// DescribeDriver registers the behaviour every storage.Driver must have.
// newDriver is called before each spec; the driver is closed after it.
func DescribeDriver(newDriver func() storage.Driver) {
	var (
		ctx    context.Context
		driver storage.Driver
		base   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
		base = time.Unix(1735689600, 0).UTC()
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
			driver = nil
		}
	})

	It("lists a thread in insertion order", func() {
		Expect(driver.Append(ctx,
			NewRecord("t-1", "a", llm.RoleUser, "hi", base),
			NewRecord("t-1", "b", llm.RoleAssistant, "hello", base.Add(time.Second)),
		)).To(Succeed())
		Expect(driver.Append(ctx, NewRecord("t-1", "c", llm.RoleUser, "plan my week", base.Add(2*time.Second)))).To(Succeed())

		records, err := driver.List(ctx, "t-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(3))
		Expect([]string{records[0].ID, records[1].ID, records[2].ID}).To(Equal([]string{"a", "b", "c"}))
		Expect(records[1].Role).To(Equal(llm.RoleAssistant))
		Expect(records[1].Content).To(Equal("hello"))
		Expect(records[1].CreatedAt).To(BeTemporally("==", base.Add(time.Second)))
	})

	It("skips records whose id already exists", func() {
		rec := NewRecord("t-1", "a", llm.RoleUser, "hi", base)
		Expect(driver.Append(ctx, rec)).To(Succeed())
		Expect(driver.Append(ctx, rec)).To(Succeed())

		records, err := driver.List(ctx, "t-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
	})

	It("returns NotFoundError for unknown threads", func() {
		_, err := driver.List(ctx, "missing")
		Expect(err).To(MatchError(storage.NotFoundError{ThreadID: "missing"}))
	})

	It("rejects invalid records", func() {
		err := driver.Append(ctx, NewRecord("", "a", llm.RoleUser, "hi", base))
		Expect(err).To(MatchError(storage.ErrInvalidRecord))

		err = driver.Append(ctx, NewRecord("t-1", "a", llm.Role("robot"), "hi", base))
		Expect(err).To(MatchError(storage.ErrInvalidRecord))
	})

	It("summarizes threads most recent first", func() {
		Expect(driver.Append(ctx,
			NewRecord("t-old", "a", llm.RoleUser, "hi", base),
			NewRecord("t-new", "b", llm.RoleUser, "hi", base.Add(time.Minute)),
			NewRecord("t-new", "c", llm.RoleAssistant, "hello", base.Add(2*time.Minute)),
		)).To(Succeed())

		threads, err := driver.Threads(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(threads).To(HaveLen(2))
		Expect(threads[0].ID).To(Equal("t-new"))
		Expect(threads[0].MessageCount).To(Equal(2))
		Expect(threads[0].UpdatedAt).To(BeTemporally("==", base.Add(2*time.Minute)))
		Expect(threads[1].ID).To(Equal("t-old"))
	})

	It("returns no threads when empty", func() {
		threads, err := driver.Threads(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(threads).To(BeEmpty())
	})
}
