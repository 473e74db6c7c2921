package safety

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/quadfc/internal/flight"
)

func TestSafetySuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Safety Suite")
}

var _ = Describe("Machine", func() {
	var (
		m   *Machine
		now time.Time
	)

	BeforeEach(func() {
		m = New()
		now = time.Unix(1000, 0)
	})

	It("starts disarmed with no fault", func() {
		Expect(m.State()).To(Equal(flight.Disarmed))
		Expect(m.Fault().Reason).To(Equal(flight.FaultNone))
	})

	It("records when arming started", func() {
		Expect(m.RequestArm(ArmCheck{SensorHealthy: true}, now)).To(Succeed())
		Expect(m.ArmingSince()).To(Equal(now))
	})

	Context("with concurrent halt and arm requests", func() {
		It("always ends halted", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_ = m.RequestArm(ArmCheck{SensorHealthy: true}, now)
					_ = m.CompleteArming(now)
				}()
				go func() {
					defer wg.Done()
					_ = m.Halt(now)
				}()
			}
			wg.Wait()
			Expect(m.State()).To(Equal(flight.Halted))
			Expect(m.Fault().Reason).To(Equal(flight.FaultHaltCommand))
		})
	})
})
