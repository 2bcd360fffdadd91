// Package telemetry delivers parameter records and console messages from the
// robot to remote loggers. Every sink is best effort: callers never block on a
// slow or missing logger and never see an error.
package telemetry

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// NewRunID returns a fresh identifier for one robot run.
func NewRunID() string {
	return uuid.NewString()
}

// FormatParams encodes a parameter record in the logger's line format:
// "name1;name2$value1;value2\n".
func FormatParams(names []string, values []any) string {
	vals := make([]string, len(values))
	for i, v := range values {
		vals[i] = fmt.Sprint(v)
	}
	return strings.Join(names, ";") + "$" + strings.Join(vals, ";") + "\n"
}

// FormatConsole encodes a console message in the logger's line format.
func FormatConsole(message string) string {
	return "console$" + message + "\n"
}

// Stream serves the line format over TCP to one logger at a time. Lines queued
// while no logger is connected are kept up to the queue size and dropped after.
type Stream struct {
	listener net.Listener
	queue    chan string
	done     chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Uint64
	once     sync.Once
}

// Listen starts a Stream on addr (host:port).
func Listen(addr string, queueSize int) (*Stream, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("telemetry listen on %s: %w", addr, err)
	}

	s := &Stream{
		listener: ln,
		queue:    make(chan string, queueSize),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns the listening address.
func (s *Stream) Addr() net.Addr {
	return s.listener.Addr()
}

// Dropped returns how many lines were discarded because the queue was full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// LogParams queues a parameter record.
func (s *Stream) LogParams(names []string, values []any) {
	s.enqueue(FormatParams(names, values))
}

// Print queues a console message.
func (s *Stream) Print(message string) {
	s.enqueue(FormatConsole(message))
}

func (s *Stream) enqueue(line string) {
	select {
	case s.queue <- line:
	default:
		s.dropped.Add(1)
	}
}

func (s *Stream) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("telemetry accept: %v", err)
			continue
		}
		log.Printf("telemetry logger connected from %s", conn.RemoteAddr())
		if !s.pump(conn) {
			return
		}
	}
}

// pump writes queued lines to conn until it fails. It reports false once the
// stream is closed.
func (s *Stream) pump(conn net.Conn) bool {
	defer conn.Close()
	for {
		select {
		case <-s.done:
			s.flush(conn)
			return false
		case line := <-s.queue:
			if _, err := conn.Write([]byte(line)); err != nil {
				log.Printf("telemetry logger %s dropped: %v", conn.RemoteAddr(), err)
				return true
			}
		}
	}
}

func (s *Stream) flush(conn net.Conn) {
	for {
		select {
		case line := <-s.queue:
			if _, err := conn.Write([]byte(line)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close stops accepting loggers and disconnects the current one after writing
// what is still queued.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
		s.wg.Wait()
	})
	return err
}
