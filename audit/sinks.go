package audit

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ruteri/tee-wallet-kms/cryptoutils"
)

// ConsoleSink writes one JSON document per line.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink writes to w, or to stdout when w is nil.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Write(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(line, '\n'))
	return err
}

func (s *ConsoleSink) Flush() error {
	if f, ok := s.w.(interface{ Sync() error }); ok {
		// Sync on a terminal returns EINVAL; nothing is buffered on our side.
		_ = f.Sync()
	}
	return nil
}

func (s *ConsoleSink) Name() string { return "console" }

// FileSink appends JSON lines to a file opened once at construction.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Write(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Sync()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func (s *FileSink) Name() string { return "file:" + s.path }

// EncryptedFileSink appends one sealed record per entry. Each frame is a
// 4-byte little-endian length followed by [nonce][ciphertext+tag] of the
// JSON-encoded entry under XChaCha20-Poly1305.
type EncryptedFileSink struct {
	mu   sync.Mutex
	path string
	key  []byte
	f    *os.File
}

// NewEncryptedFileSink takes a copy of the 32-byte key.
func NewEncryptedFileSink(path string, key []byte) (*EncryptedFileSink, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("audit encryption key must be 32 bytes, got %d", len(key))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted audit file: %w", err)
	}
	return &EncryptedFileSink{path: path, key: append([]byte(nil), key...), f: f}, nil
}

func (s *EncryptedFileSink) Write(entry Entry) error {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	sealed, err := cryptoutils.SealXChaCha(s.key, plaintext, nil)
	if err != nil {
		return err
	}
	frame := make([]byte, 4, 4+len(sealed))
	binary.LittleEndian.PutUint32(frame, uint32(len(sealed)))
	frame = append(frame, sealed...)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(frame)
	return err
}

func (s *EncryptedFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Sync()
}

// Close zeroes the key and closes the file.
func (s *EncryptedFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.key)
	return s.f.Close()
}

func (s *EncryptedFileSink) Name() string { return "encrypted-file:" + s.path }

// MaxEncryptedFrameSize bounds a single encrypted record on read.
const MaxEncryptedFrameSize = 1 << 20

var ErrCorruptFrame = errors.New("corrupt audit frame")

// ReadEncryptedFile decrypts every frame of an encrypted audit file and
// returns the JSON records in write order.
func ReadEncryptedFile(path string, key []byte) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records [][]byte
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		size := binary.LittleEndian.Uint32(hdr[:])
		if size > MaxEncryptedFrameSize {
			return nil, fmt.Errorf("%w: frame %d claims %d bytes", ErrCorruptFrame, len(records), size)
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		record, err := cryptoutils.OpenXChaCha(key, frame, nil)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", len(records), err)
		}
		records = append(records, record)
	}
}

// SlogSink mirrors audit entries into an operational slog logger.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) Write(entry Entry) error {
	level := slog.LevelInfo
	switch entry.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError, LevelCritical, LevelSecurity:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("audit_level", entry.Level.String()),
		slog.String("component", entry.Component),
		slog.Int64("timestamp", entry.Timestamp),
	}
	if entry.Event != nil {
		attrs = append(attrs, slog.String("kind", string(entry.Event.Kind())), slog.Any("event", entry.Event))
	}
	if entry.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", entry.SessionID))
	}
	if entry.UserID != "" {
		attrs = append(attrs, slog.String("user_id", entry.UserID))
	}
	s.log.LogAttrs(context.Background(), level, "audit", attrs...)
	return nil
}

func (s *SlogSink) Flush() error { return nil }

func (s *SlogSink) Name() string { return "slog" }
