package notifier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability/notifier"
)

func TestNotifier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notifier Suite")
}

var _ = Describe("Notifier file delivery", func() {
	var n *notifier.Notifier

	BeforeEach(func() {
		n = notifier.New(notifier.Config{})
	})

	Context("directory creation error handling", func() {
		It("should wrap directory creation errors as retryable", func() {
			tempDir := GinkgoT().TempDir()
			readOnlyDir := filepath.Join(tempDir, "readonly")
			Expect(os.Mkdir(readOnlyDir, 0o555)).To(Succeed())

			invalidDir := filepath.Join(readOnlyDir, "cannot-create-this")

			result, err := n.Send(context.Background(), "test body", []string{"file:" + invalidDir}, nil)
			Expect(err).To(HaveOccurred())
			Expect(result.Status).To(Equal(capability.NotifyFailed))
			Expect(err.Error()).To(ContainSubstring("notification channels failed"))
		})

		It("should succeed when directory is writable", func() {
			tempDir := GinkgoT().TempDir()
			writableDir := filepath.Join(tempDir, "writable")

			result, err := n.Send(context.Background(), "test body", []string{"file:" + writableDir}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(capability.NotifySuccess))

			files, err := os.ReadDir(writableDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))
		})
	})

	Context("file write error handling", func() {
		It("should wrap file write errors as retryable", func() {
			tempDir := GinkgoT().TempDir()
			readOnlyFileDir := filepath.Join(tempDir, "readonly-files")
			Expect(os.Mkdir(readOnlyFileDir, 0o755)).To(Succeed())
			Expect(os.Chmod(readOnlyFileDir, 0o555)).To(Succeed())

			result, err := n.Send(context.Background(), "test body", []string{"file:" + readOnlyFileDir}, nil)
			Expect(err).To(HaveOccurred())
			Expect(result.Status).To(Equal(capability.NotifyFailed))
		})
	})

	Context("fan-out across multiple channels", func() {
		It("reports partial status when one of several channels fails", func() {
			tempDir := GinkgoT().TempDir()
			goodDir := filepath.Join(tempDir, "good")
			readOnlyDir := filepath.Join(tempDir, "readonly")
			Expect(os.Mkdir(readOnlyDir, 0o555)).To(Succeed())
			badDir := filepath.Join(readOnlyDir, "cannot-create")

			result, err := n.Send(context.Background(), "fan-out body", []string{"file:" + goodDir, "file:" + badDir}, map[string]string{"incident": "INC-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(capability.NotifyPartial))
			Expect(result.Sent).To(ContainElement("file:" + goodDir))
			Expect(result.Failed).To(ContainElement("file:" + badDir))
		})
	})
})
