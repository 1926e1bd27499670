package sqlite_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/storage"
	"github.com/papercomputeco/coach/pkg/storage/sqlite"
	testutils "github.com/papercomputeco/coach/pkg/utils/test"
)

var _ = Describe("Driver", func() {
	Context("in memory", func() {
		testutils.DescribeDriver(func() storage.Driver {
			d, err := sqlite.NewDriver(context.Background(), ":memory:")
			Expect(err).NotTo(HaveOccurred())
			return d
		})
	})

	It("persists across reopen", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "coach.db")

		d, err := sqlite.NewDriver(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Append(ctx, testutils.NewRecord("t-1", "a", llm.RoleUser, "hi", time.Now()))).To(Succeed())
		Expect(d.Close()).To(Succeed())

		d, err = sqlite.NewDriver(ctx, path)
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		records, err := d.List(ctx, "t-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Content).To(Equal("hi"))
	})
})
