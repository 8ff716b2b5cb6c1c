// Package audio defines the PCM frame format of a call and the sources that
// produce it.
//
// Every frame is 20 ms of 48 kHz interleaved stereo int16 audio: 960 samples
// per channel, 1920 values in total. A Source hands out one frame per mixer
// tick and must not block; sources backed by slow decoders or network
// streams should be wrapped in a Prefetcher.
//
// Adapters are provided for raw PCM, MP3 (go-mp3), FLAC (mewkiz/flac), an
// in-memory buffer and a sine generator. Inputs at other sample rates or in
// mono are converted with a streaming linear Resampler.
package audio
