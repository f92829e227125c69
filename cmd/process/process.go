package process

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/dsp"
)

const (
	scale16  = 1.0 / 32768.0
	scaleOut = 32767.0
)

var (
	volume      int
	controlByte int
)

// Command creates the process command that runs the DSP chain over a
// WAV file, for tuning the chain without audio hardware.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [input.wav] [output.wav]",
		Short: "Process an audio file through the DSP chain",
		Long:  "Decode a WAV file, run it through the configured DSP chain and encode the result, matching what the render loop would send to the output device.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if volume < 0 || volume > dsp.MaxVolume {
				return fmt.Errorf("volume must be between 0 and %d, got %d", dsp.MaxVolume, volume)
			}
			if controlByte < 0 || controlByte > 255 {
				return fmt.Errorf("control must be between 0 and 255, got %d", controlByte)
			}
			return processFile(settings, args[0], args[1])
		},
	}

	cmd.Flags().IntVarP(&volume, "volume", "v", viper.GetInt("dsp.volume"), "Playback volume for bass compensation (0-127)")
	cmd.Flags().IntVarP(&controlByte, "control", "c", 0, "DSP control byte (0x01 bass boost, 0x02 flip, 0x04 bypass)")

	return cmd
}

// processFile decodes input, runs every frame through ProcessStereo and
// encodes the result at the source sample rate.
func processFile(settings *conf.Settings, inputPath, outputPath string) error {
	inFile, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	decoder := wav.NewDecoder(inFile)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return fmt.Errorf("input is not a valid WAV file: %s", inputPath)
	}
	if decoder.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth: %d, expected 16", decoder.BitDepth)
	}
	channels := int(decoder.NumChans)
	if channels != 1 && channels != 2 {
		return fmt.Errorf("unsupported channel count: %d, expected mono or stereo", channels)
	}
	sampleRate := int(decoder.SampleRate)

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("failed to read PCM data: %w", err)
	}

	proc, err := buildProcessor(settings, sampleRate)
	if err != nil {
		return err
	}

	frames := len(buf.Data) / channels
	out := make([]int, frames*2)

	fmt.Printf("Processing %s: %d frames at %d Hz, volume %d, control byte 0x%02x\n",
		inputPath, frames, sampleRate, volume, byte(controlByte))

	start := time.Now()
	for i := range frames {
		var l, r float64
		if channels == 1 {
			s := float64(buf.Data[i]) * scale16
			l, r = s, s
		} else {
			l = float64(buf.Data[i*2]) * scale16
			r = float64(buf.Data[i*2+1]) * scale16
		}

		ol, or := proc.ProcessStereo(l, r)
		out[i*2] = clamp16(ol)
		out[i*2+1] = clamp16(or)
	}
	elapsed := time.Since(start)

	if err := writeWAV(outputPath, out, sampleRate); err != nil {
		return err
	}

	audioSeconds := float64(frames) / float64(sampleRate)
	fmt.Printf("Wrote %s: %.1f s of audio processed in %v (%.1fx realtime)\n",
		outputPath, audioSeconds, elapsed.Round(time.Millisecond),
		audioSeconds/elapsed.Seconds())
	return nil
}

// buildProcessor creates a DSP processor configured like the engine
// would configure it from the same settings.
func buildProcessor(settings *conf.Settings, sampleRate int) (*dsp.Processor, error) {
	proc, err := dsp.New(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create DSP processor: %w", err)
	}

	eq := settings.DSP.Equalizer
	if err := proc.SetEQ(eq.Bass, eq.Mid, eq.Treble); err != nil {
		return nil, fmt.Errorf("failed to apply EQ gains: %w", err)
	}
	if err := proc.SetVolume(volume); err != nil {
		return nil, fmt.Errorf("failed to set volume: %w", err)
	}
	cross := settings.DSP.Crossover
	if cross.LowPassFreq > 0 && cross.HighPassFreq > 0 {
		if err := proc.SetCrossoverFrequencies(cross.LowPassFreq, cross.HighPassFreq); err != nil {
			return nil, fmt.Errorf("failed to set crossover: %w", err)
		}
	}
	proc.SetBassCompensation(settings.DSP.BassComp)
	proc.SetStagePresence(settings.DSP.Spatial)
	proc.SetAnalysis(false)
	proc.ApplyControlByte(byte(controlByte))

	return proc, nil
}

// writeWAV encodes interleaved 16-bit stereo samples.
func writeWAV(path string, samples []int, sampleRate int) error {
	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	enc := wav.NewEncoder(outFile, sampleRate, 16, 2, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:   samples,
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: 2},
	}); err != nil {
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	return enc.Close()
}

func clamp16(v float64) int {
	s := int(v * scaleOut)
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return s
}
