//go:build integration

package integration

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/daemon"
	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
	"github.com/eliteGoblin/focusd/app_freeze/internal/infra"
	"github.com/eliteGoblin/focusd/app_freeze/internal/metrics"
	"github.com/eliteGoblin/focusd/app_freeze/internal/policy"
	"github.com/eliteGoblin/focusd/app_freeze/internal/usecase"
	"github.com/eliteGoblin/focusd/app_freeze/test/fixtures"
)

var _ = Describe("Suspension daemon", func() {
	var (
		tmpDir   string
		sleeper  *fixtures.Sleeper
		signaler *infra.ProcessSignaler
		journal  *infra.EncryptedJournal
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "appfreeze-integration-*")
		Expect(err).NotTo(HaveOccurred())

		sleeper, err = fixtures.StartSleeper()
		Expect(err).NotTo(HaveOccurred())

		signaler = infra.NewProcessSignaler()
		journal, err = infra.OpenJournal(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		journal.Close()
		sleeper.Kill()
		os.RemoveAll(tmpDir)
	})

	Describe("Scheduler with real signals", func() {
		var scheduler *usecase.Scheduler

		BeforeEach(func() {
			rules := policy.NewRuleSet([]domain.Rule{
				{Kind: domain.MatchGlob, Target: "sleep*", Delay: 50 * time.Millisecond},
			})
			scheduler = usecase.NewSchedulerWithDeps(signaler, policy.NewStore(rules), usecase.NewPendingTable(), journal, nil, zap.NewNop())
		})

		Context("when a matching app loses focus", func() {
			It("should stop it after the delay and continue it on activation", func() {
				scheduler.HandleEvent(domain.AppEvent{Kind: domain.EventDeactivated, PID: sleeper.PID(), DisplayName: "sleep"})

				Eventually(sleeper.IsStopped, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
				Expect(scheduler.Suspended()).To(ConsistOf(sleeper.PID()))

				scheduler.FlushJournal()
				records, err := journal.Suspended()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))

				scheduler.HandleEvent(domain.AppEvent{Kind: domain.EventActivated, PID: sleeper.PID()})
				Eventually(sleeper.IsStopped, 2*time.Second, 10*time.Millisecond).Should(BeFalse())

				scheduler.FlushJournal()
				records, err = journal.Suspended()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})

		Context("when the app regains focus before the delay", func() {
			It("should never stop it", func() {
				slow := policy.NewRuleSet([]domain.Rule{{Kind: domain.MatchGlob, Target: "sleep*", Delay: 300 * time.Millisecond}})
				scheduler.SetRules(slow)

				scheduler.HandleEvent(domain.AppEvent{Kind: domain.EventDeactivated, PID: sleeper.PID(), DisplayName: "sleep"})
				scheduler.HandleEvent(domain.AppEvent{Kind: domain.EventActivated, PID: sleeper.PID()})

				Consistently(sleeper.IsStopped, 500*time.Millisecond, 20*time.Millisecond).Should(BeFalse())
				Expect(scheduler.Pending()).To(BeEmpty())
			})
		})

		Context("when suspension is disabled", func() {
			It("should continue stopped apps immediately", func() {
				scheduler.HandleEvent(domain.AppEvent{Kind: domain.EventDeactivated, PID: sleeper.PID(), DisplayName: "sleep"})
				Eventually(sleeper.IsStopped, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

				resumed := scheduler.SetEnabled(false)
				Expect(resumed).To(Equal([]int{sleeper.PID()}))
				Eventually(sleeper.IsStopped, 2*time.Second, 10*time.Millisecond).Should(BeFalse())
			})
		})
	})

	Describe("Runner end to end", func() {
		var (
			source   *fixtures.ScriptedSource
			registry *infra.FileRegistry
			runner   *daemon.Runner
			cancel   context.CancelFunc
			done     chan error
		)

		BeforeEach(func() {
			rulesPath, err := fixtures.WriteRules(tmpDir,
				fixtures.RuleEntry{Type: "bundleID", Identifier: "com.example.sleeper", Delay: 0.05},
			)
			Expect(err).NotTo(HaveOccurred())

			m := metrics.New()
			rulesSource := infra.NewJSONRuleSource(rulesPath, domain.DefaultDelay, zap.NewNop())
			scheduler := usecase.NewSchedulerWithDeps(signaler, policy.NewStore(nil), usecase.NewPendingTable(), journal, m, zap.NewNop())
			controller := daemon.NewController(scheduler, rulesSource, journal, signaler, signaler, m, zap.NewNop())

			source = fixtures.NewScriptedSource()
			registry = infra.NewFileRegistry(tmpDir)
			runner = daemon.NewRunner(daemon.RunnerConfig{HeartbeatInterval: time.Hour}, controller, source, registry,
				domain.DaemonState{RulesPath: rulesPath, AppVersion: "integration"}, zap.NewNop())

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan error, 1)
			go func() { done <- runner.Run(ctx) }()

			Eventually(func() *domain.DaemonState {
				s, _ := registry.Get()
				return s
			}, 2*time.Second, 10*time.Millisecond).ShouldNot(BeNil())
		})

		It("should register, suspend, and resume everything on shutdown", func() {
			state, err := infra.LiveDaemon(registry, signaler)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.PID).To(Equal(os.Getpid()))
			Expect(state.RuleCount).To(Equal(1))

			source.Emit(domain.AppEvent{Kind: domain.EventDeactivated, PID: sleeper.PID(), BundleID: "com.example.sleeper"})
			Eventually(sleeper.IsStopped, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(MatchError(context.Canceled)))

			Expect(sleeper.IsStopped()).To(BeFalse())
			s, err := registry.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(BeNil())

			records, err := journal.Suspended()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("Crash recovery", func() {
		It("should continue processes a previous run left stopped", func() {
			Expect(signaler.Pause(sleeper.PID())).To(Succeed())
			Eventually(sleeper.IsStopped, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
			Expect(journal.MarkSuspended(domain.SuspendedProcess{PID: sleeper.PID(), BundleID: "com.example.sleeper"})).To(Succeed())

			scheduler := usecase.NewScheduler(signaler, policy.NewStore(nil), zap.NewNop())
			controller := daemon.NewController(scheduler, infra.NewJSONRuleSource(tmpDir+"/none.json", 0, zap.NewNop()),
				journal, signaler, signaler, nil, zap.NewNop())

			Expect(controller.Recover()).To(Equal([]int{sleeper.PID()}))
			Eventually(sleeper.IsStopped, 2*time.Second, 10*time.Millisecond).Should(BeFalse())

			records, err := journal.Suspended()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})
})
