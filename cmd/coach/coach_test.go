package coachcmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	coachcmder "github.com/papercomputeco/coach/cmd/coach"
)

var _ = Describe("NewCoachCmd", func() {
	It("wires every subcommand", func() {
		cmd := coachcmder.NewCoachCmd()
		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("chat", "serve", "config", "init", "version"))
	})

	It("has the global --debug and --config-dir flags", func() {
		cmd := coachcmder.NewCoachCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("debug").Shorthand).To(Equal("d"))
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})
