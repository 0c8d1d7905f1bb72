package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"speech-session-service/internal/errorsx"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// WAVSource replays a 16-bit mono PCM WAV file as frames.
// With Realtime set, frames are released at capture cadence.
//
// Like a physical device, the source has one read position shared by every
// stream it opens: a stream opened after another was closed continues where
// the previous one stopped. Once the data is consumed every stream reports
// io.EOF.
type WAVSource struct {
	Path         string
	SampleRate   int
	FrameSamples int
	Realtime     bool

	mu     sync.Mutex
	offset int64 // data bytes consumed
}

// NewWAVSource creates a file source at the default capture format.
func NewWAVSource(path string, realtime bool) *WAVSource {
	return &WAVSource{
		Path:         path,
		SampleRate:   SampleRate,
		FrameSamples: FrameSamples,
		Realtime:     realtime,
	}
}

// Open opens the file, validates its header and positions the stream at
// the source's read cursor.
func (s *WAVSource) Open(ctx context.Context) (Stream, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("open wav: %w", err), errorsx.KindDevice)
	}

	if err := s.readHeader(f); err != nil {
		f.Close()
		return nil, errorsx.Wrap(err, errorsx.KindDevice)
	}
	if _, err := f.Seek(wavHeaderSize+s.Offset(), io.SeekStart); err != nil {
		f.Close()
		return nil, errorsx.Wrap(fmt.Errorf("seek wav: %w", err), errorsx.KindDevice)
	}

	frameSamples := s.FrameSamples
	if frameSamples <= 0 {
		frameSamples = FrameSamples
	}
	sampleRate := s.SampleRate
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	return &wavStream{
		src:       s,
		ctx:       ctx,
		file:      f,
		r:         bufio.NewReader(f),
		frameSize: frameSamples * BytesPerSample,
		interval:  time.Duration(frameSamples) * time.Second / time.Duration(sampleRate),
		realtime:  s.Realtime,
	}, nil
}

// Offset returns the number of data bytes consumed so far.
func (s *WAVSource) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *WAVSource) advance(n int) {
	s.mu.Lock()
	s.offset += int64(n)
	s.mu.Unlock()
}

func (s *WAVSource) readHeader(r io.Reader) error {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return errors.New("not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	if audioFormat != 1 {
		return fmt.Errorf("only PCM wav supported, got format %d", audioFormat)
	}
	if numChannels != 1 || bitsPerSample != 16 {
		return fmt.Errorf("expected mono 16-bit wav, got channels=%d bits=%d", numChannels, bitsPerSample)
	}
	want := s.SampleRate
	if want <= 0 {
		want = SampleRate
	}
	if int(sampleRate) != want {
		return fmt.Errorf("expected %d Hz wav, got %d Hz", want, sampleRate)
	}
	return nil
}

type wavStream struct {
	src       *WAVSource
	ctx       context.Context
	file      *os.File
	r         *bufio.Reader
	frameSize int
	interval  time.Duration
	realtime  bool
	next      time.Time
	once      sync.Once
}

func (w *wavStream) ReadFrame() (Frame, error) {
	if w.realtime {
		if err := w.pace(); err != nil {
			return Frame{}, err
		}
	}

	buf := make([]byte, w.frameSize)
	n, err := io.ReadFull(w.r, buf)
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, io.EOF
		}
		return Frame{}, errorsx.Wrap(fmt.Errorf("read wav: %w", err), errorsx.KindDevice)
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return Frame{}, errorsx.Wrap(fmt.Errorf("read wav: %w", err), errorsx.KindDevice)
	}
	w.src.advance(n)
	return NewFrame(buf[:n]), nil
}

// pace blocks until the next frame is due.
func (w *wavStream) pace() error {
	now := time.Now()
	if w.next.IsZero() {
		w.next = now
	}
	if wait := w.next.Sub(now); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		case <-t.C:
		}
	}
	w.next = w.next.Add(w.interval)
	return nil
}

func (w *wavStream) Close() error {
	var err error
	w.once.Do(func() {
		err = w.file.Close()
	})
	return err
}

// WriteWAV writes PCM16 mono samples as a WAV file at sampleRate.
func WriteWAV(wr io.Writer, pcm []byte, sampleRate int) error {
	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*BytesPerSample))
	binary.LittleEndian.PutUint16(header[32:34], BytesPerSample)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := wr.Write(header); err != nil {
		return err
	}
	_, err := wr.Write(pcm)
	return err
}
