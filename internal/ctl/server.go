package ctl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/lfmartins/telesync/internal/listener"
	"github.com/lfmartins/telesync/internal/store"
)

// ErrLoopGone is returned when a forwarded command cannot reach the
// daemon loop anymore.
var ErrLoopGone = errors.New("sync loop not available")

// maxLineBytes bounds one request line.
const maxLineBytes = 1 << 20

// Server answers NDJSON requests on a unix socket. Cache reads run on a
// per-connection store handle; live-connection operations are forwarded
// to the listener loop over the command channel.
type Server struct {
	socketPath string
	dbPath     string
	commands   chan listener.Command
	loopDone   <-chan struct{}
	log        *zap.Logger

	ln net.Listener
}

func NewServer(socketPath, dbPath string, commands chan listener.Command, loopDone <-chan struct{}, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		dbPath:     dbPath,
		commands:   commands,
		loopDone:   loopDone,
		log:        log,
	}
}

// Start binds the socket and serves connections until Stop. A stale
// socket file left by a dead daemon is removed first.
func (s *Server) Start() error {
	if err := s.removeStale(); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.ln = ln

	go s.acceptLoop()
	s.log.Info("control socket listening", zap.String("path", s.socketPath))
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	_ = os.Remove(s.socketPath)
}

func (s *Server) removeStale() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		return nil
	}
	if conn, err := net.Dial("unix", s.socketPath); err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %s is in use by another daemon", s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	db, err := store.Open(s.dbPath)
	if err != nil {
		s.log.Error("open store for connection", zap.Error(err))
		_ = json.NewEncoder(conn).Encode(errResponse("cache unavailable: %v", err))
		return
	}
	defer func() { _ = db.Close() }()

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handle(line, db)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

// handle serves one request line. Malformed input yields a structured
// error and the connection stays usable.
func (s *Server) handle(line []byte, db *store.DB) Response {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return errResponse("malformed request: %v", err)
	}

	switch env.Action {
	case ActionPing:
		return okResponse()

	case ActionSendText:
		if _, err := decode[SendTextRequest](line); err != nil {
			return errResponse("%v", err)
		}
		return errResponse("send_text is not implemented over the socket; use `telesync send`")

	case ActionMarkRead:
		if _, err := decode[MarkReadRequest](line); err != nil {
			return errResponse("%v", err)
		}
		return errResponse("mark_read is not implemented over the socket; use `telesync read`")

	case ActionBackfill:
		req, err := decode[BackfillRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		if req.ChatID == 0 {
			return errResponse("backfill requires chat_id")
		}
		res, err := s.forward(listener.Command{
			Kind: listener.CmdBackfill, ChatID: req.ChatID, Limit: req.Limit,
		})
		if err != nil {
			return errResponse("%v", err)
		}
		resp := okResponse()
		resp.Fetched = &res.Fetched
		return resp

	case ActionSync:
		req, err := decode[SyncRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		res, err := s.forward(listener.Command{Kind: listener.CmdSync, Limit: req.Limit})
		if err != nil {
			return errResponse("%v", err)
		}
		resp := okResponse()
		resp.Synced = &res.Synced
		return resp

	case ActionRead:
		req, err := decode[ReadRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		if req.ChatID == 0 {
			return errResponse("read requires chat_id")
		}
		res, err := s.forward(listener.Command{
			Kind: listener.CmdRead, ChatID: req.ChatID,
			TopicID: req.TopicID, AllTopics: req.AllTopics,
		})
		if err != nil {
			return errResponse("%v", err)
		}
		resp := okResponse()
		resp.MarkedRead = res.MarkedRead
		resp.TopicsCount = res.TopicsCount
		return resp

	case ActionStop:
		if _, err := s.forward(listener.Command{Kind: listener.CmdStop}); err != nil {
			return errResponse("%v", err)
		}
		return okResponse()

	case ActionClear:
		return clearAll(db)

	case ActionChats:
		req, err := decode[ChatsRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		chats, err := db.ListChats(req.Query, req.Limit)
		if err != nil {
			return errResponse("list chats: %v", err)
		}
		resp := okResponse()
		resp.Chats = chats
		return resp

	case ActionMessages:
		req, err := decode[MessagesRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		if req.ChatID == 0 {
			return errResponse("messages requires chat_id")
		}
		msgs, err := db.ListMessages(store.ListMessagesParams{
			ChatID: req.ChatID, TopicID: req.TopicID, Limit: req.Limit,
		})
		if err != nil {
			return errResponse("list messages: %v", err)
		}
		resp := okResponse()
		resp.Messages = msgs
		return resp

	case ActionSearch:
		req, err := decode[SearchRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		if req.Query == "" {
			return errResponse("search requires query")
		}
		msgs, err := db.SearchMessages(store.SearchMessagesParams{
			Query: req.Query, ChatID: req.ChatID, Limit: req.Limit,
		})
		if err != nil {
			return errResponse("search: %v", err)
		}
		resp := okResponse()
		resp.Messages = msgs
		return resp

	case ActionContacts:
		req, err := decode[ContactsRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		contacts, err := db.ListContacts("", req.Limit)
		if err != nil {
			return errResponse("list contacts: %v", err)
		}
		resp := okResponse()
		resp.Contacts = contacts
		return resp

	case ActionTopics:
		req, err := decode[TopicsRequest](line)
		if err != nil {
			return errResponse("%v", err)
		}
		if req.ChatID == 0 {
			return errResponse("topics requires chat_id")
		}
		topics, err := db.ListTopics(req.ChatID)
		if err != nil {
			return errResponse("list topics: %v", err)
		}
		resp := okResponse()
		resp.Topics = topics
		return resp

	default:
		return errResponse("unknown action %q", env.Action)
	}
}

// forward hands a command to the listener loop and waits for its reply.
// A gone loop is an error response, never a hang.
func (s *Server) forward(cmd listener.Command) (listener.CommandResult, error) {
	if s.commands == nil {
		return listener.CommandResult{}, ErrLoopGone
	}
	cmd.Reply = make(chan listener.CommandResult, 1)

	select {
	case s.commands <- cmd:
	case <-s.loopDone:
		return listener.CommandResult{}, ErrLoopGone
	}
	select {
	case res := <-cmd.Reply:
		return res, res.Err
	case <-s.loopDone:
		return listener.CommandResult{}, ErrLoopGone
	}
}

func clearAll(db *store.DB) Response {
	var counts store.ClearCounts
	var err error
	if counts.Messages, err = db.ClearMessages(); err != nil {
		return errResponse("clear messages: %v", err)
	}
	if counts.Topics, err = db.ClearTopics(); err != nil {
		return errResponse("clear topics: %v", err)
	}
	if counts.Chats, err = db.ClearChats(); err != nil {
		return errResponse("clear chats: %v", err)
	}
	if counts.Contacts, err = db.ClearContacts(); err != nil {
		return errResponse("clear contacts: %v", err)
	}
	resp := okResponse()
	resp.Cleared = &counts
	return resp
}
