package audio

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/tphakala/btsink-go/internal/errors"
)

// decodedSound is cue PCM ready for the resampler: interleaved 16-bit
// samples at the source rate.
type decodedSound struct {
	rate    int
	stereo  bool
	samples []int16
}

func (d *decodedSound) frames() int {
	if d.stereo {
		return len(d.samples) / 2
	}
	return len(d.samples)
}

// decodeSoundFile loads a cue file, converting to interleaved 16-bit
// samples regardless of the source depth.
func decodeSoundFile(path string) (*decodedSound, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".flac":
		return decodeFLAC(path)
	default:
		return nil, errors.Newf("unsupported sound file type: %s", filepath.Ext(path)).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_sound").
			Context("path", path).
			Build()
	}
}

func decodeWAV(path string) (*decodedSound, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "decode_wav").
			Build()
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("invalid WAV file: %s", path).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_wav").
			Build()
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return nil, errors.Newf("unsupported number of channels: %d", decoder.NumChans).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_wav").
			Build()
	}
	if decoder.BitDepth != 8 && decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return nil, errors.Newf("unsupported bit depth: %d", decoder.BitDepth).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_wav").
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_wav").
			Build()
	}

	samples := make([]int16, len(buf.Data))
	switch decoder.BitDepth {
	case 8:
		for i, v := range buf.Data {
			samples[i] = sampleU8(uint8(v))
		}
	case 16:
		for i, v := range buf.Data {
			samples[i] = int16(v)
		}
	case 24:
		for i, v := range buf.Data {
			samples[i] = int16(v >> 8)
		}
	case 32:
		for i, v := range buf.Data {
			samples[i] = int16(v >> 16)
		}
	}

	return &decodedSound{
		rate:    int(decoder.SampleRate),
		stereo:  decoder.NumChans == 2,
		samples: samples,
	}, nil
}

func decodeFLAC(path string) (*decodedSound, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "decode_flac").
			Build()
	}
	defer f.Close()

	decoder, err := flac.NewDecoder(f)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_flac").
			Build()
	}
	if decoder.NChannels != 1 && decoder.NChannels != 2 {
		return nil, errors.Newf("unsupported number of channels: %d", decoder.NChannels).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_flac").
			Build()
	}
	if decoder.BitsPerSample != 16 && decoder.BitsPerSample != 24 && decoder.BitsPerSample != 32 {
		return nil, errors.Newf("unsupported bit depth: %d", decoder.BitsPerSample).
			Component("audio").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_flac").
			Build()
	}

	bytesPerSample := decoder.BitsPerSample / 8
	var samples []int16

	for {
		frame, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, errors.New(err).
				Component("audio").
				Category(errors.CategoryFileParsing).
				Context("operation", "decode_flac").
				Build()
		}

		for i := 0; i+bytesPerSample <= len(frame); i += bytesPerSample {
			var s int16
			switch decoder.BitsPerSample {
			case 16:
				s = int16(binary.LittleEndian.Uint16(frame[i:]))
			case 24:
				v := int32(frame[i]) | int32(frame[i+1])<<8 | int32(int8(frame[i+2]))<<16
				s = int16(v >> 8)
			case 32:
				s = int16(int32(binary.LittleEndian.Uint32(frame[i:])) >> 16)
			}
			samples = append(samples, s)
		}
	}

	return &decodedSound{
		rate:    decoder.SampleRate,
		stereo:  decoder.NChannels == 2,
		samples: samples,
	}, nil
}
