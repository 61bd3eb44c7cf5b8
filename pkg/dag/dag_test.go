package dag_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/kubernaut-workflow-engine/pkg/dag"
)

func TestDag(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DAG Suite")
}

type fakeRegistry struct {
	known map[string]bool
}

func (r fakeRegistry) Has(name string) bool {
	return r.known[name]
}

func newRegistry(names ...string) fakeRegistry {
	known := map[string]bool{}
	for _, n := range names {
		known[n] = true
	}
	return fakeRegistry{known: known}
}

var _ = Describe("DAG Builder", func() {
	Context("sequence", func() {
		It("chains handlers edge-to-edge", func() {
			b := dag.NewBuilder(newRegistry("a", "b", "c"))
			Expect(b.Sequence("a", "b", "c")).To(Succeed())

			g, err := b.Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes).To(HaveLen(3))
			Expect(g.Roots()).To(Equal([]int{0}))
			Expect(g.Downstream(0)).To(Equal([]int{1}))
			Expect(g.Downstream(1)).To(Equal([]int{2}))
		})

		It("elides empty handler names at build time", func() {
			b := dag.NewBuilder(newRegistry("a", "c"))
			Expect(b.Sequence("a", "", "c")).To(Succeed())

			g, err := b.Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes).To(HaveLen(2))
		})

		It("rejects unregistered handlers", func() {
			b := dag.NewBuilder(newRegistry("a"))
			err := b.Sequence("a", "unknown")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("group", func() {
		It("behaves like a sequence of one for a single member", func() {
			b := dag.NewBuilder(newRegistry("solo"))
			Expect(b.Group("solo")).To(Succeed())

			g, err := b.Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes).To(HaveLen(1))
			Expect(g.Nodes[0].Kind).To(Equal(dag.NodeGroup))
			Expect(g.Nodes[0].Members).To(Equal([]string{"solo"}))
		})

		It("allows an empty group (degenerate chord callback case)", func() {
			b := dag.NewBuilder(newRegistry())
			Expect(b.Group()).To(Succeed())
			Expect(b.Sequence("noop")).NotTo(Succeed()) // unregistered: proves group didn't swallow validation
		})
	})

	Context("chord", func() {
		It("wires a group followed by a callback depending on it", func() {
			reg := newRegistry("create_github_issue", "embed_in_vector_store", "notify_stakeholders")
			b := dag.NewBuilder(reg)
			Expect(b.Chord([]string{"create_github_issue", "embed_in_vector_store"}, "notify_stakeholders")).To(Succeed())

			g, err := b.Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes).To(HaveLen(2))
			Expect(g.Nodes[0].Kind).To(Equal(dag.NodeGroup))
			Expect(g.Nodes[0].Members).To(Equal([]string{"create_github_issue", "embed_in_vector_store"}))
			Expect(g.Nodes[1].Handler).To(Equal("notify_stakeholders"))
			Expect(g.Nodes[1].Upstream).To(Equal([]int{0}))
		})

		It("builds a memberless group node ahead of the callback when the group is empty", func() {
			reg := newRegistry("notify_stakeholders")
			b := dag.NewBuilder(reg)
			Expect(b.Chord(nil, "notify_stakeholders")).To(Succeed())

			g, err := b.Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes[0].Members).To(BeEmpty())
		})
	})

	Context("sequencing a group inside a sequence", func() {
		It("supports group/chord nested in a larger sequence", func() {
			reg := newRegistry("scan_directory", "detect_changes", "regen_a", "regen_b", "batch_update_vector_store")
			b := dag.NewBuilder(reg)
			Expect(b.Sequence("scan_directory", "detect_changes")).To(Succeed())
			Expect(b.Chord([]string{"regen_a", "regen_b"}, "batch_update_vector_store")).To(Succeed())

			g, err := b.Build()
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes).To(HaveLen(4))
			Expect(g.Nodes[2].Upstream).To(Equal([]int{1}))
			Expect(g.Nodes[3].Upstream).To(Equal([]int{2}))
		})
	})

	Context("validation", func() {
		It("rejects a workflow with zero steps", func() {
			b := dag.NewBuilder(newRegistry())
			_, err := b.Build()
			Expect(err).To(HaveOccurred())
		})

		It("produces a topological order consistent with dependencies", func() {
			b := dag.NewBuilder(newRegistry("a", "b", "c"))
			Expect(b.Sequence("a", "b", "c")).To(Succeed())

			g, err := b.Build()
			Expect(err).NotTo(HaveOccurred())
			positions := map[int]int{}
			for pos, idx := range g.Order {
				positions[idx] = pos
			}
			Expect(positions[0]).To(BeNumerically("<", positions[1]))
			Expect(positions[1]).To(BeNumerically("<", positions[2]))
		})
	})
})
