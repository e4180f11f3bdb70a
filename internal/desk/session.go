// Package desk — терминальный клиент одного пользователя: живой журнал активной команды,
// карта непрочитанного, лента уведомлений и звуковые сигналы на каждое из этих событий.
package desk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teamchat/internal/audio"
	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/messagelog"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/notification"
	"github.com/teamchat/internal/readstate"
	"github.com/teamchat/internal/storage"
)

// ErrQuit возвращается HandleLine на /quit.
var ErrQuit = errors.New("quit")

const historyLines = 20

// Cues — звуковой движок (audio.Engine).
type Cues interface {
	RequestCue(kind audio.CueKind)
	Unlock()
	SetEnabled(enabled bool) error
	Enabled() bool
}

type Deps struct {
	UserID  string
	Log     *messagelog.Client
	Chat    *chat.Service
	Tracker *readstate.Tracker
	Notes   *notification.Store
	Cues    Cues
	Out     io.Writer
}

// teamView — одна подписка на журнал команды. Первый снапшот только печатается.
type teamView struct {
	teamID string
	unsub  storage.Unsubscribe
	seen   map[string]struct{}
	primed bool
}

type Session struct {
	deps Deps
	feed *notification.Feed

	outMu sync.Mutex

	mu          sync.Mutex
	view        *teamView
	unread      map[string]int
	unreadReady bool
	feedReady   bool
	touched     bool
	unsubs      []storage.Unsubscribe
}

func NewSession(deps Deps) *Session {
	s := &Session{deps: deps}
	s.feed = notification.NewFeed(deps.Notes, deps.Cues)
	return s
}

// Start подписывает ленту и непрочитанное по teams и открывает первую команду.
func (s *Session) Start(ctx context.Context, teams []string) error {
	if len(teams) == 0 {
		return fmt.Errorf("desk: no teams for user %s", s.deps.UserID)
	}
	unsubUnread, err := s.deps.Tracker.SubscribeUnread(ctx, s.deps.UserID, teams, s.onUnread)
	if err != nil {
		return fmt.Errorf("desk: unread: %w", err)
	}
	unsubFeed, err := s.feed.Subscribe(ctx, s.deps.UserID, s.onFeed)
	if err != nil {
		unsubUnread()
		return fmt.Errorf("desk: notifications: %w", err)
	}
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubUnread, unsubFeed)
	s.mu.Unlock()
	return s.SwitchTeam(ctx, teams[0])
}

// Close снимает все подписки.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	view := s.view
	s.view = nil
	s.mu.Unlock()
	if view != nil && view.unsub != nil {
		view.unsub()
	}
	for _, u := range unsubs {
		u()
	}
}

// SwitchTeam делает teamID активной: подписывает новый журнал, затем снимает прежний.
// Открытая команда сразу отмечается прочитанной.
func (s *Session) SwitchTeam(ctx context.Context, teamID string) error {
	view := &teamView{teamID: teamID, seen: make(map[string]struct{})}
	s.mu.Lock()
	prev := s.view
	s.view = view
	s.mu.Unlock()

	unsub, err := s.deps.Log.Subscribe(ctx, teamID, func(ms []model.Message) { s.onTeam(view, ms) })
	if err != nil {
		s.mu.Lock()
		s.view = prev
		s.mu.Unlock()
		return fmt.Errorf("desk: subscribe %s: %w", teamID, err)
	}
	s.mu.Lock()
	view.unsub = unsub
	stale := s.view != view
	s.mu.Unlock()
	if stale {
		unsub()
	}
	if prev != nil && prev.unsub != nil {
		prev.unsub()
	}
	s.printf("-- team %s --\n", teamID)
	if _, err := s.deps.Tracker.MarkRead(ctx, s.deps.UserID, teamID); err != nil {
		logger.Errorf("desk: mark read %s: %v", teamID, err)
	}
	return nil
}

// ActiveTeam — открытая команда.
func (s *Session) ActiveTeam() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return ""
	}
	return s.view.teamID
}

func (s *Session) onTeam(view *teamView, ms []model.Message) {
	s.mu.Lock()
	if s.view != view {
		s.mu.Unlock()
		return
	}
	var fresh []model.Message
	if !view.primed {
		view.primed = true
		for _, m := range ms {
			view.seen[m.ID] = struct{}{}
		}
		if len(ms) > historyLines {
			fresh = ms[len(ms)-historyLines:]
		} else {
			fresh = ms
		}
		s.mu.Unlock()
		for _, m := range fresh {
			s.printMessage(m)
		}
		return
	}
	fromOthers := false
	for _, m := range ms {
		if _, ok := view.seen[m.ID]; ok {
			continue
		}
		view.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
		if m.SenderID != s.deps.UserID {
			fromOthers = true
		}
	}
	s.mu.Unlock()

	for _, m := range fresh {
		s.printMessage(m)
	}
	if fromOthers {
		s.deps.Cues.RequestCue(audio.CueReceived)
	}
}

// onUnread: рост счётчика в неактивной команде даёт один общий сигнал на колбэк.
func (s *Session) onUnread(counts map[string]int) {
	s.mu.Lock()
	active := ""
	if s.view != nil {
		active = s.view.teamID
	}
	grew := false
	if s.unreadReady {
		for team, n := range counts {
			if team != active && n > s.unread[team] {
				grew = true
			}
		}
	}
	s.unread = counts
	s.unreadReady = true
	s.mu.Unlock()

	s.printf("-- unread: %s\n", formatCounts(counts))
	if grew {
		s.deps.Cues.RequestCue(audio.CueGeneric)
	}
}

// onFeed печатает новые упоминания; сигнал упоминания запрашивает сама лента.
func (s *Session) onFeed(up notification.Update) {
	s.mu.Lock()
	s.feedReady = true
	s.mu.Unlock()
	if up.Initial {
		s.printf("-- notifications: %d unread\n", up.Unread())
		return
	}
	for _, n := range up.NewMentions {
		s.printf("** %s [%s]: %s\n", n.Title, n.ContextTitle, n.Message)
	}
}

// HandleLine разбирает строку ввода. Первая строка — жест пользователя, разрешающий звук.
func (s *Session) HandleLine(ctx context.Context, line string) error {
	s.mu.Lock()
	first := !s.touched
	s.touched = true
	s.mu.Unlock()
	if first {
		s.deps.Cues.Unlock()
	}

	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/quit":
		return ErrQuit
	case strings.HasPrefix(line, "/team "):
		return s.SwitchTeam(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/team ")))
	case line == "/sound on", line == "/sound off":
		if err := s.deps.Cues.SetEnabled(line == "/sound on"); err != nil {
			return fmt.Errorf("desk: sound: %w", err)
		}
		s.printf("-- sound %s\n", strings.TrimPrefix(line, "/sound "))
		return nil
	case line == "/read":
		_, err := s.deps.Tracker.MarkRead(ctx, s.deps.UserID, s.ActiveTeam())
		return err
	case line == "/notifications read":
		n, err := s.feed.MarkAllRead(ctx, s.deps.UserID)
		if err != nil {
			return err
		}
		s.printf("-- %d notifications marked read\n", n)
		return nil
	case strings.HasPrefix(line, "/"):
		s.printf("-- commands: /team <id>, /sound on|off, /read, /notifications read, /quit\n")
		return nil
	}

	team := s.ActiveTeam()
	if _, err := s.deps.Chat.Send(ctx, team, s.deps.UserID, line, ""); err != nil {
		if errors.Is(err, messagelog.ErrNotAMember) {
			s.printf("!! you are not a member of this team\n")
			return nil
		}
		return err
	}
	s.deps.Cues.RequestCue(audio.CueSent)
	return nil
}

// ready — все три потока отдали первый снапшот.
func (s *Session) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view != nil && s.view.primed && s.unreadReady && s.feedReady
}

func (s *Session) printMessage(m model.Message) {
	name := m.SenderName
	if name == "" {
		name = m.SenderEmail
	}
	edited := ""
	if m.IsEdited {
		edited = " (edited)"
	}
	s.printf("[%s] %s: %s%s\n", m.Timestamp.Local().Format(time.Kitchen), name, m.Content, edited)
}

func (s *Session) printf(format string, args ...any) {
	if s.deps.Out == nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.deps.Out, format, args...)
}

func formatCounts(counts map[string]int) string {
	teams := make([]string, 0, len(counts))
	for t := range counts {
		teams = append(teams, t)
	}
	sort.Strings(teams)
	parts := make([]string, len(teams))
	for i, t := range teams {
		parts[i] = fmt.Sprintf("%s=%d", t, counts[t])
	}
	return strings.Join(parts, " ")
}
