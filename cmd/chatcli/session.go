package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/Rrens/laundry-chat/internal/chat"
	"github.com/Rrens/laundry-chat/internal/config"
	"github.com/Rrens/laundry-chat/internal/history"
	"github.com/Rrens/laundry-chat/internal/logger"
	"github.com/Rrens/laundry-chat/internal/transport/ws"
	"github.com/spf13/cobra"
)

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.Client.Token = v
	}

	// Keep the terminal for the conversation; logs go to the configured file only
	logCfg := cfg.Logging
	logCfg.Format = "json"
	appLog, err := logger.Setup(logCfg, true)
	if err != nil {
		return err
	}
	if logCfg.File == "" {
		appLog = appLog.Output(io.Discard)
	}

	dialer := ws.NewDialer(ws.Options{
		URL:               cfg.Client.ServerURL,
		Token:             cfg.Client.Token,
		ReconnectAttempts: cfg.Client.ReconnectAttempts,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
		Timeout:           cfg.Client.Timeout,
		SendBuffer:        cfg.Realtime.SendBuffer,
		Logger:            appLog,
	})
	historyClient := history.NewClient(cfg.Client.ServerURL, cfg.Client.Token, cfg.Client.Timeout)

	t := &terminal{
		out:     cmd.OutOrStdout(),
		manager: chat.NewManager(dialer, historyClient, appLog),
	}
	defer t.manager.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if user, _ := cmd.Flags().GetString("user"); user != "" {
		t.login(ctx, user)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if !t.handle(ctx, strings.TrimSpace(scanner.Text())) {
			return nil
		}
	}
	return scanner.Err()
}

// terminal renders session snapshots and turns input lines into session calls
type terminal struct {
	out     io.Writer
	manager *chat.Manager

	mu          sync.Mutex
	unsubscribe func()
	printed     map[string]struct{}
	lastError   string
	lastVersion uint64
}

func (t *terminal) handle(ctx context.Context, line string) bool {
	if line == "" {
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/login":
		t.login(ctx, arg)
		return true
	case "/logout":
		t.login(ctx, "")
		return true
	}

	s := t.manager.Current()
	if s == nil {
		fmt.Fprintln(t.out, "not logged in; use /login <userId>")
		return true
	}

	switch cmd {
	case "/chats":
		if err := s.RefreshChats(ctx); err != nil {
			fmt.Fprintf(t.out, "refresh failed: %v\n", err)
		}
		t.printChats(s.State())
	case "/join":
		t.join(s, arg)
	case "/unread":
		t.printChats(s.State())
	default:
		if err := s.SendMessage(line); err != nil {
			fmt.Fprintf(t.out, "send failed: %v\n", err)
		}
	}
	return true
}

func (t *terminal) login(ctx context.Context, userID string) {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.printed = make(map[string]struct{})
	t.lastError = ""
	t.lastVersion = 0
	t.mu.Unlock()

	s, err := t.manager.SetIdentity(ctx, userID)
	if s == nil {
		if err != nil {
			fmt.Fprintf(t.out, "login failed: %v\n", err)
		} else {
			fmt.Fprintln(t.out, "logged out")
		}
		return
	}
	if err != nil {
		fmt.Fprintf(t.out, "warning: %v\n", err)
	}

	cancel := s.Subscribe(t.render)
	t.mu.Lock()
	t.unsubscribe = cancel
	t.mu.Unlock()

	fmt.Fprintf(t.out, "logged in as %s\n", userID)
	t.printChats(s.State())
}

func (t *terminal) join(s *chat.Session, orderID string) {
	st := s.State()
	for i := range st.Chats {
		if st.Chats[i].OrderID == orderID {
			conv := st.Chats[i]
			if err := s.JoinChat(&conv); err != nil {
				fmt.Fprintf(t.out, "join failed: %v\n", err)
				return
			}
			fmt.Fprintf(t.out, "joined %s\n", orderID)
			return
		}
	}
	fmt.Fprintf(t.out, "no chat for order %q; try /chats\n", orderID)
}

// render prints messages not shown yet and any new error
func (t *terminal) render(st chat.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st.Version <= t.lastVersion {
		return
	}
	t.lastVersion = st.Version

	for _, m := range st.Messages {
		if _, ok := t.printed[m.ID]; ok {
			continue
		}
		t.printed[m.ID] = struct{}{}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.SenderID, m.Content)
	}

	if st.Error != "" && st.Error != t.lastError {
		fmt.Fprintf(t.out, "! %s\n", st.Error)
	}
	t.lastError = st.Error
}

func (t *terminal) printChats(st chat.State) {
	if len(st.Chats) == 0 {
		fmt.Fprintln(t.out, "no chats")
		return
	}

	chats := st.Chats
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })

	for _, c := range chats {
		marker := " "
		if c.OrderID == st.SelectedOrderID() {
			marker = "*"
		}
		line := fmt.Sprintf("%s %s", marker, c.OrderID)
		if n := st.Unread(c.OrderID); n > 0 {
			line += fmt.Sprintf(" (%d unread)", n)
		}
		if c.LastMessage != "" {
			line += " - " + c.LastMessage
		}
		fmt.Fprintln(t.out, line)
	}
}
