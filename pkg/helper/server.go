package helper

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Server is the Unix domain socket accept loop. No teacher precedent
// exists for a stream-socket server (confirmed by repo-wide search) — the
// accept-loop/goroutine-per-connection/fmt.Errorf shape is authored fresh
// in the teacher's general idiom; the wire protocol itself (one exchange
// per connection, newline-framed JSON, body cap) is ported from
// original_source/.../ThreadedUnixServer and Handler.
type Server struct {
	api           *API
	socketPath    string
	socketGroup   string
	maxBodyBytes  int64
	listener      net.Listener
	wg            sync.WaitGroup
}

// NewServer builds a helper socket server. maxBodyBytes below 1024 is
// raised to 1024, matching the Python original's `max(1024, ...)`.
func NewServer(api *API, socketPath, socketGroup string, maxBodyBytes int64) *Server {
	if maxBodyBytes < 1024 {
		maxBodyBytes = 1024
	}
	return &Server{api: api, socketPath: socketPath, socketGroup: socketGroup, maxBodyBytes: maxBodyBytes}
}

// Start binds the socket, applies its permissions, and begins accepting
// connections in a background goroutine. ctx cancellation stops the accept
// loop; Close additionally removes the socket file.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0750); err != nil {
		return fmt.Errorf("helper: create socket directory: %w", err)
	}
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("helper: remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("helper: listen on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	if err := applySocketPermissions(s.socketPath, s.socketGroup); err != nil {
		log.Printf("⚠️  helper: %v", err)
	}

	log.Printf("🔌 helper listening on unix://%s", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Close stops accepting connections, waits for in-flight handlers, and
// removes the socket file.
func (s *Server) Close() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	return os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("❌ helper: accept failed: %v", err)
				return
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn implements one exchange per connection: read one
// newline-terminated JSON request, write one newline-terminated JSON
// response, close.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connID := uuid.New().String()
	reader := bufio.NewReaderSize(conn, int(s.maxBodyBytes)+2)

	line, err := reader.ReadSlice('\n')
	if err != nil && len(line) == 0 {
		return
	}
	if int64(len(line)) > s.maxBodyBytes+1 {
		s.send(conn, Response{OK: false, ReturnCode: -1, Stderr: "Request body too large."})
		return
	}

	var req Request
	if err := json.Unmarshal(trimNewline(line), &req); err != nil {
		s.send(conn, Response{OK: false, ReturnCode: -1, Stderr: "Invalid JSON payload."})
		return
	}

	resp := s.api.Execute(req)
	log.Printf("🔧 helper[%s] op=%s target=%s ok=%v", connID, req.Op, req.Target, resp.OK)
	s.send(conn, resp)
}

func (s *Server) send(conn net.Conn, resp Response) {
	blob, err := json.Marshal(resp)
	if err != nil {
		return
	}
	blob = append(blob, '\n')
	_, _ = conn.Write(blob)
}

func trimNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		return b[:len(b)-1]
	}
	return b
}

// applySocketPermissions chowns the socket and its parent directory to
// the configured group and applies 0750/0660, matching
// apply_socket_permissions in the Python original. Non-fatal: a process
// not running as root logs a warning and continues, same as the original.
func applySocketPermissions(socketPath, groupName string) error {
	dir := filepath.Dir(socketPath)

	var gid int = -1
	if groupName != "" {
		if g, err := user.LookupGroup(groupName); err == nil {
			if n, err := strconv.Atoi(g.Gid); err == nil {
				gid = n
			}
		} else {
			return fmt.Errorf("group '%s' not found; socket group ownership unchanged", groupName)
		}
	}

	if gid >= 0 {
		if err := os.Chown(dir, -1, gid); err != nil {
			return fmt.Errorf("not running with permission to set socket directory group ownership: %w", err)
		}
		if err := os.Chown(socketPath, -1, gid); err != nil {
			return fmt.Errorf("not running with permission to set socket group ownership: %w", err)
		}
	}

	if err := os.Chmod(dir, 0750); err != nil {
		return fmt.Errorf("chmod socket directory: %w", err)
	}
	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}
	return nil
}
