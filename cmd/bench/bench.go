package bench

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/cpuspec"
	"github.com/tphakala/btsink-go/internal/dsp"
)

// blockFrames is the number of stereo frames fed per loop pass, matching
// the render pipeline's frame budget.
const blockFrames = 1024

var (
	runDuration time.Duration
	sampleRate  int
)

// Command creates the bench command measuring DSP chain throughput.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run DSP chain throughput benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runDuration < time.Second || runDuration > 5*time.Minute {
				return fmt.Errorf("duration must be between 1s and 5m, got %v", runDuration)
			}
			if sampleRate == 0 {
				sampleRate = settings.Audio.DefaultSampleRate
			}
			return runBenchmark(settings, sampleRate)
		},
	}

	cmd.Flags().DurationVarP(&runDuration, "duration", "t", 10*time.Second, "how long to run each stage combination")
	cmd.Flags().IntVarP(&sampleRate, "rate", "r", 0, "sample rate to benchmark at (default: configured rate)")

	return cmd
}

// stageResult stores the outcome of one chain configuration.
type stageResult struct {
	name       string
	frames     int
	nsPerFrame float64
	framesSec  float64
	headroom   float64 // realtime streams this chain could serve
}

func runBenchmark(settings *conf.Settings, rate int) error {
	spec := cpuspec.GetCPUSpec()
	if spec.BrandName != "" {
		fmt.Printf("CPU: %s, %d thread(s) recommended for audio work\n",
			spec.BrandName, spec.GetOptimalThreadCount())
	}
	fmt.Printf("⏳ Benchmarking DSP chain at %d Hz, %v per configuration...\n\n", rate, runDuration)

	configs := []struct {
		name  string
		setup func(p *dsp.Processor) error
	}{
		{"Full chain", func(p *dsp.Processor) error {
			if err := p.SetEQ(4, -2, 3); err != nil {
				return err
			}
			p.SetBassCompensation(true)
			p.SetAnalysis(true)
			p.SetStagePresence(true)
			return nil
		}},
		{"EQ + crossover", func(p *dsp.Processor) error {
			p.SetAnalysis(false)
			return p.SetEQ(4, -2, 3)
		}},
		{"Crossover only", func(p *dsp.Processor) error {
			p.SetAnalysis(false)
			return nil
		}},
		{"Bypass + boost", func(p *dsp.Processor) error {
			p.SetAnalysis(false)
			p.ApplyControlByte(0x05)
			return nil
		}},
		{"Bypass", func(p *dsp.Processor) error {
			p.SetAnalysis(false)
			p.ApplyControlByte(0x04)
			return nil
		}},
	}

	results := make([]stageResult, 0, len(configs))
	for _, cfg := range configs {
		res, err := runStage(cfg.name, rate, cfg.setup)
		if err != nil {
			return fmt.Errorf("❌ %s benchmark failed: %w", cfg.name, err)
		}
		results = append(results, res)
	}

	fmt.Printf("\nResults:\n")
	fmt.Printf("Configuration     ns/frame    Frames/sec      Realtime headroom\n")
	fmt.Printf("───────────────   ─────────   ─────────────   ─────────────────\n")
	for _, r := range results {
		fmt.Printf("%-15s   %9.1f   %13.0f   %10.0fx\n",
			r.name, r.nsPerFrame, r.framesSec, r.headroom)
	}
	fmt.Printf("───────────────   ─────────   ─────────────   ─────────────────\n")

	full := results[0]
	rating, description := getPerformanceRating(full.headroom)
	fmt.Printf("\nSystem Rating: %s, %s\n", rating, description)
	return nil
}

// runStage builds a fresh processor, applies the configuration and runs
// a 440 Hz sine through it for the configured duration.
func runStage(name string, rate int, setup func(*dsp.Processor) error) (stageResult, error) {
	proc, err := dsp.New(rate)
	if err != nil {
		return stageResult{}, err
	}
	if err := setup(proc); err != nil {
		return stageResult{}, err
	}

	// One block of a 440 Hz tone at half scale.
	block := make([]float64, blockFrames)
	step := 2 * math.Pi * 440 / float64(rate)
	for i := range block {
		block[i] = 0.5 * math.Sin(step*float64(i))
	}

	// Warmup settles filter state and branch predictors.
	for range 16 {
		for _, s := range block {
			proc.ProcessStereo(s, s)
		}
	}

	var frames int
	start := time.Now()
	for time.Since(start) < runDuration {
		for _, s := range block {
			proc.ProcessStereo(s, s)
		}
		frames += blockFrames
	}
	elapsed := time.Since(start)
	fmt.Printf("🔄 %-15s %d frames in %v\n", name, frames, elapsed.Round(time.Millisecond))

	nsPerFrame := float64(elapsed.Nanoseconds()) / float64(frames)
	framesSec := float64(frames) / elapsed.Seconds()
	return stageResult{
		name:       name,
		frames:     frames,
		nsPerFrame: nsPerFrame,
		framesSec:  framesSec,
		headroom:   framesSec / float64(rate),
	}, nil
}

// getPerformanceRating maps realtime headroom of the full chain to a
// verdict. Headroom below ~4x leaves nothing for codec decode and the
// render loop itself.
func getPerformanceRating(headroom float64) (rating, description string) {
	switch {
	case headroom < 1:
		return "❌ Failed", "System cannot run the DSP chain in realtime"
	case headroom < 4:
		return "⚠️ Poor", "System may drop buffers under load"
	case headroom < 10:
		return "👍 Decent", "System will handle realtime processing"
	case headroom < 50:
		return "✨ Good", "System will perform well"
	case headroom < 200:
		return "🏆 Excellent", "System will perform excellently"
	default:
		return "🚀 Superb", "System will perform exceptionally well"
	}
}
